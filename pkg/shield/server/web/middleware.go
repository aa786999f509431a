package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/shield-server/pkg/metrics"
)

type resultCodeHandler func(*newrelic.Transaction, string)

const (
	resultCodeContextKey = "shield.result_code"

	httpRouteAttributeKey = "http.route"

	resultCodeAttributeKey      = "shield.response.resultCode"
	resultCodeLevelAttributeKey = "shield.response.resultCodeLevel"

	infoLevel    = "info"
	warningLevel = "warning"
	errorLevel   = "error"
)

var (
	resultCodeHandlers = map[string]resultCodeHandler{
		resultOK:       infoResultCodeHandler,
		resultNotFound: infoResultCodeHandler,

		resultInvalidRequest:      warningResultCodeHandler,
		resultInvalidAmount:       warningResultCodeHandler,
		resultInvalidRecipient:    warningResultCodeHandler,
		resultInsufficientBalance: warningResultCodeHandler,
		resultNotResumable:        warningResultCodeHandler,
		resultWalletMismatch:      warningResultCodeHandler,
		resultJournalDisabled:     warningResultCodeHandler,
		resultBlockhashExpired:    warningResultCodeHandler,
		resultIndexerBehind:       warningResultCodeHandler,
	}
	defaultResultCodeHandler = errorResultCodeHandler
)

func infoResultCodeHandler(m *newrelic.Transaction, resultCode string) {
	m.AddAttribute(resultCodeAttributeKey, resultCode)
	m.AddAttribute(resultCodeLevelAttributeKey, infoLevel)
}

func warningResultCodeHandler(m *newrelic.Transaction, resultCode string) {
	m.AddAttribute(resultCodeAttributeKey, resultCode)
	m.AddAttribute(resultCodeLevelAttributeKey, warningLevel)
}

func errorResultCodeHandler(m *newrelic.Transaction, resultCode string) {
	m.AddAttribute(resultCodeAttributeKey, resultCode)
	m.AddAttribute(resultCodeLevelAttributeKey, errorLevel)
	m.NoticeError(&newrelic.Error{
		Class: "Shield Result: " + resultCode,
	})
}

// newRelicMiddleware starts a New Relic transaction per request and makes the
// application available to downstream code for custom events and metrics.
func newRelicMiddleware(app *newrelic.Application) gin.HandlerFunc {
	if app == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		route := c.FullPath()
		if len(route) == 0 {
			route = "unknown"
		}

		m := app.StartTransaction(c.Request.Method + " " + route)
		defer m.End()

		m.SetWebRequestHTTP(c.Request)
		m.AddAttribute(httpRouteAttributeKey, route)

		ctx := metrics.NewContext(newrelic.NewContext(c.Request.Context(), m), app)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		m.SetWebResponse(nil).WriteHeader(c.Writer.Status())
		if resultCode := c.GetString(resultCodeContextKey); len(resultCode) > 0 {
			handler, ok := resultCodeHandlers[resultCode]
			if !ok {
				handler = defaultResultCodeHandler
			}
			handler(m, resultCode)
		}
	}
}

func loggingMiddleware(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Info("request completed")
		} else {
			entry.Debug("request completed")
		}
	}
}
