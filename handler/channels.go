package handler

import (
	"encoding/json"
	"net/http"
	"time"

	C "attribution/config"
	"attribution/metrics"
	mid "attribution/middleware"
	"attribution/model"
	U "attribution/util"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/copier"
	log "github.com/sirupsen/logrus"
)

type ChannelResponse struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	// EffectiveWeight is the weight used by the Weighted model, the default
	// weight when Weight is 0.
	EffectiveWeight float64         `json:"effective_weight"`
	Aliases         []string        `json:"aliases"`
	Modifier        *model.Modifier `json:"modifier,omitempty"`
	Implicit        bool            `json:"implicit"`
}

type UpdateChannelWeightPayload struct {
	Weight *float64 `json:"weight"`
}

// UpdateChannelModifierPayload toggles a modifier. When Kind is given the
// channel's modifier is replaced, Within being a duration such as "30m".
type UpdateChannelModifierPayload struct {
	Active *bool              `json:"active"`
	Kind   model.ModifierKind `json:"kind"`
	Weight float64            `json:"weight"`
	Within string             `json:"within"`
}

func (p UpdateChannelModifierPayload) getModifier() (*model.Modifier, error) {
	modifier := &model.Modifier{Kind: p.Kind, Weight: p.Weight, Active: *p.Active}
	if p.Within != "" {
		within, err := time.ParseDuration(p.Within)
		if err != nil {
			return nil, model.ErrInvalidModifier
		}
		modifier.Within = within
	}
	return modifier, nil
}

func getChannelResponse(registry *model.ChannelRegistry, channel model.Channel) (ChannelResponse, error) {
	var response ChannelResponse
	if err := copier.Copy(&response, &channel); err != nil {
		return ChannelResponse{}, err
	}
	if response.Aliases == nil {
		response.Aliases = make([]string, 0)
	}
	response.EffectiveWeight = registry.GetWeight(channel.ID)
	return response, nil
}

// GetChannelsHandler lists the channel table.
func GetChannelsHandler(services *C.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		logCtx := log.WithFields(log.Fields{
			"reqId": U.GetScopeByKeyAsString(c, mid.SCOPE_REQ_ID),
		})

		channels := services.Registry.ListChannels()
		response := make([]ChannelResponse, 0, len(channels))
		for _, channel := range channels {
			channelResponse, err := getChannelResponse(services.Registry, channel)
			if err != nil {
				logCtx.WithError(err).Error("Failed to copy channel.")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to list channels."})
				return
			}
			response = append(response, channelResponse)
		}
		c.JSON(http.StatusOK, response)
	}
}

// UpdateChannelWeightHandler sets a channel weight. Invalid weights are
// rejected and the previous weight kept.
func UpdateChannelWeightHandler(services *C.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		channelID := c.Param("channel_id")
		logCtx := log.WithFields(log.Fields{
			"reqId":   U.GetScopeByKeyAsString(c, mid.SCOPE_REQ_ID),
			"channel": channelID,
		})

		var payload UpdateChannelWeightPayload
		decoder := json.NewDecoder(c.Request.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil || payload.Weight == nil {
			logCtx.WithError(err).Error("Update channel failed. Json decode failed.")
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Update channel failed. Invalid weight."})
			return
		}

		if err := services.Registry.SetWeight(channelID, *payload.Weight); err != nil {
			logCtx.WithError(err).Error("Update channel failed.")
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		metrics.Increment(metrics.IncrChannelUpdate)

		channel, _ := services.Registry.GetChannel(channelID)
		response, err := getChannelResponse(services.Registry, channel)
		if err != nil {
			logCtx.WithError(err).Error("Failed to copy channel.")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Update channel failed."})
			return
		}
		c.JSON(http.StatusOK, response)
	}
}

// UpdateChannelModifierHandler switches a channel's behavioral modifier on or
// off, or replaces it.
func UpdateChannelModifierHandler(services *C.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		channelID := c.Param("channel_id")
		logCtx := log.WithFields(log.Fields{
			"reqId":   U.GetScopeByKeyAsString(c, mid.SCOPE_REQ_ID),
			"channel": channelID,
		})

		var payload UpdateChannelModifierPayload
		decoder := json.NewDecoder(c.Request.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil || payload.Active == nil {
			logCtx.WithError(err).Error("Update modifier failed. Json decode failed.")
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Update modifier failed. Invalid payload."})
			return
		}

		var err error
		if payload.Kind != "" {
			var modifier *model.Modifier
			modifier, err = payload.getModifier()
			if err == nil {
				err = services.Registry.SetModifier(channelID, modifier)
			}
		} else {
			err = services.Registry.SetModifierActive(channelID, *payload.Active)
		}
		if err == model.ErrUnknownChannel {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		metrics.Increment(metrics.IncrChannelUpdate)

		channel, _ := services.Registry.GetChannel(channelID)
		response, err := getChannelResponse(services.Registry, channel)
		if err != nil {
			logCtx.WithError(err).Error("Failed to copy channel.")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Update modifier failed."})
			return
		}
		c.JSON(http.StatusOK, response)
	}
}
