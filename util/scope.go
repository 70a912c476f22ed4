package util

import "github.com/gin-gonic/gin"

const scopesKey = "scopes"

type scopes map[string]interface{}

func getScopes(c *gin.Context) (scopes, bool) {
	value, exists := c.Get(scopesKey)
	if !exists {
		return nil, false
	}
	requestScopes, ok := value.(scopes)
	return requestScopes, ok
}

// SetScope stores a request scoped value on the context.
func SetScope(c *gin.Context, key string, value interface{}) {
	requestScopes, exists := getScopes(c)
	if !exists {
		requestScopes = make(scopes)
		c.Set(scopesKey, requestScopes)
	}
	requestScopes[key] = value
}

// GetScopeByKeyAsString returns "" when the scope is unset or not a string.
func GetScopeByKeyAsString(c *gin.Context, key string) string {
	requestScopes, exists := getScopes(c)
	if !exists {
		return ""
	}
	value, _ := requestScopes[key].(string)
	return value
}
