package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Conn is the hub's view of the mirror link: a message-oriented, ordered,
// reliable channel per §4.9a. Tests substitute a fake; production dials a
// real gorilla/websocket connection.
type Conn interface {
	WriteEnvelope(Envelope) error
	ReadEnvelope() (Envelope, error)
	Close() error
}

// wsConn adapts a *websocket.Conn to Conn, following the teacher's
// client.go read/write deadline and JSON-framing conventions.
type wsConn struct {
	conn *websocket.Conn
}

// DialMirror opens the hub→mirror websocket link, authenticating with a
// bearer JWT signed by apiKey (claim: hub_id, issued at connect), mirroring
// the teacher's internal/infrastructure/websocket/auth.go JWT-over-websocket
// pattern.
func DialMirror(ctx context.Context, endpoint, apiKey, hubID string) (Conn, error) {
	token, err := generateHubToken(apiKey, hubID)
	if err != nil {
		return nil, fmt.Errorf("generate mirror auth token: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("X-Hub-ID", hubID)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("dial mirror %s: %w", endpoint, err)
	}
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	return &wsConn{conn: conn}, nil
}

func (c *wsConn) WriteEnvelope(e Envelope) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(e)
}

func (c *wsConn) ReadEnvelope() (Envelope, error) {
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		return Envelope{}, err
	}
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// hubClaims is the JWT payload a hub presents to its mirror.
type hubClaims struct {
	HubID string `json:"hub_id"`
	jwt.RegisteredClaims
}

func generateHubToken(apiKey, hubID string) (string, error) {
	claims := hubClaims{
		HubID: hubID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  hubID,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(apiKey))
}

// ValidateHubToken verifies a bearer token presented to the mirror side,
// returning the claimed hub ID. Used by a mirror-side HTTP upgrade handler,
// which is outside this package's scope (§4.9a is hub-initiated transport
// detail; the mirror's accept-side framing is not specified by §4.9).
func ValidateHubToken(apiKey, tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &hubClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return []byte(apiKey), nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*hubClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid mirror auth token")
	}
	return claims.HubID, nil
}
