package podserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = websocket.Upgrader{}

type echoRequestMessage struct {
	Message string `json:"message"`
}

type echoResponseMessage struct {
	Message string          `json:"message"`
	Request httpRequestInfo `json:"request"`
}

type httpRequestInfo struct {
	Method  string      `json:"method"`
	URL     string      `json:"url"`
	Proto   string      `json:"proto"`
	Headers http.Header `json:"headers"`
}

func httpRequestToInfo(r *http.Request) httpRequestInfo {
	return httpRequestInfo{
		Method:  r.Method,
		URL:     r.URL.String(),
		Proto:   r.Proto,
		Headers: r.Header,
	}
}

// EchoEndpoint mirrors the incoming request, headers included. The gateway
// forwarding tests read x-auth-props back out of this.
func (s *Server) EchoEndpoint(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"http_request": httpRequestToInfo(c.Request()),
	})
}

func (s *Server) WebsocketEchoEndpoint(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	for {
		messageType, msg, err := ws.ReadMessage()
		if err != nil {
			slog.Error("error reading message", "error", err)
			return err
		}
		if messageType != websocket.TextMessage {
			ws.WriteJSON(map[string]string{
				"error":             "invalid_message_type",
				"error_description": "only text messages are supported",
			})
			continue
		}

		parsedMsg := new(echoRequestMessage)
		if err := json.Unmarshal(msg, &parsedMsg); err != nil {
			ws.WriteJSON(map[string]string{
				"error":             "invalid_message_format",
				"error_description": "invalid JSON format",
			})
			continue
		}

		err = ws.WriteJSON(echoResponseMessage{
			Message: parsedMsg.Message,
			Request: httpRequestToInfo(c.Request()),
		})
		if err != nil {
			slog.Error("error writing message", "error", err)
			return err
		}
	}
}
