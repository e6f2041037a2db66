// Package proxy relays Chrome DevTools traffic between a debugging
// client and a session's browser over WebSocket.
package proxy

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const dialTimeout = 10 * time.Second

// Debug upgrades the request to a WebSocket and pipes frames in both
// directions between the client and the browser's CDP endpoint until
// either side closes. connectURL must point at a live browser.
func Debug(w http.ResponseWriter, r *http.Request, sessionID, connectURL string) {
	ctx := r.Context()

	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer clientConn.Close()

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	browserConn, _, err := websocket.DefaultDialer.DialContext(dialCtx, connectURL, nil)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("session_id", sessionID).Msg("unable to reach browser devtools")
		clientConn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "browser unreachable"),
			time.Now().Add(time.Second),
		)
		return
	}
	defer browserConn.Close()

	log.Ctx(ctx).Info().Str("session_id", sessionID).Msg("debug session attached")

	errCh := make(chan error, 2)
	go func() { errCh <- pipe(clientConn, browserConn) }()
	go func() { errCh <- pipe(browserConn, clientConn) }()

	if err := <-errCh; err != nil && err != io.EOF {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
			log.Ctx(ctx).Warn().Err(err).Str("session_id", sessionID).Msg("debug proxy error")
		}
	}
	log.Ctx(ctx).Info().Str("session_id", sessionID).Msg("debug session detached")
}

func pipe(src, dst *websocket.Conn) error {
	for {
		messageType, message, err := src.ReadMessage()
		if err != nil {
			return err
		}
		if err := dst.WriteMessage(messageType, message); err != nil {
			return err
		}
	}
}
