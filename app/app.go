package main

import (
	"flag"
	"strconv"

	C "attribution/config"
	H "attribution/handler"
	"attribution/metrics"
	mid "attribution/middleware"
	"attribution/model"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const appName = "attribution_server"

// ./app --env=development --port=8080 --channels_file=channels.yaml --channel_weights=push:3,sms:2.5 --max_touches=20
func main() {
	env := flag.String("env", C.DEVELOPMENT, "")
	port := flag.Int("port", 8080, "")
	channelsFile := flag.String("channels_file", "", "YAML channel table merged over the built-in channels")
	channelWeights := flag.String("channel_weights", "", "Comma separated channel weights, e.g. push:3,sms:2.5")
	scenarioMixFile := flag.String("scenario_mix_file", "", "YAML scenario mix used by the simulator")
	maxTouches := flag.Int("max_touches", 0, "Journey length cap, 0 for none")
	windowPolicy := flag.String("window_policy", string(model.WindowPolicyWindowed),
		"Touches given to repeat conversions: windowed or first_conversion")
	defaultChannelWeight := flag.Float64("default_channel_weight", 0, "Weight of unconfigured channels")
	simulationCacheSize := flag.Int("simulation_cache_size", 100, "Seeded simulations kept in memory, 0 disables")
	maxSimulationCount := flag.Int("max_simulation_count", 100000, "")
	gcpProjectID := flag.String("gcp_project_id", "", "Project for stackdriver metrics")
	gcpProjectLocation := flag.String("gcp_project_location", "", "")
	sentryDSN := flag.String("sentry_dsn", "", "Sentry DSN")

	flag.Parse()

	config := &C.Configuration{
		Env:                  *env,
		Port:                 *port,
		ChannelsFile:         *channelsFile,
		ChannelWeights:       *channelWeights,
		ScenarioMixFile:      *scenarioMixFile,
		MaxTouches:           *maxTouches,
		WindowPolicy:         *windowPolicy,
		DefaultChannelWeight: *defaultChannelWeight,
		SimulationCacheSize:  *simulationCacheSize,
		MaxSimulationCount:   *maxSimulationCount,
		GCPProjectID:         *gcpProjectID,
		GCPProjectLocation:   *gcpProjectLocation,
		SentryDSN:            *sentryDSN,
	}

	err := C.Init(config)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize.")
		return
	}

	exporter := metrics.InitMetrics(config.Env, appName, config.GCPProjectID, config.GCPProjectLocation)
	if exporter != nil {
		defer exporter.Flush()
	}

	if !C.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	// Root middleware for cors.
	r.Use(mid.CustomCors())
	r.Use(mid.RequestIdGenerator())
	r.Use(mid.Logger())
	r.Use(mid.Recovery())

	H.InitAppRoutes(r, C.GetServices())

	log.WithField("port", C.GetConfig().Port).Info("Starting attribution server.")
	if err := r.Run(":" + strconv.Itoa(C.GetConfig().Port)); err != nil {
		log.WithError(err).Error("Server stopped.")
	}
}
