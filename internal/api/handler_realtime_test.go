package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func dialRealtime(t *testing.T, server *httptest.Server, org string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/organizations/" + org + "/realtime"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil returns the first frame of the given type, skipping others.
func readUntil(t *testing.T, conn *websocket.Conn, frameType string) testFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var frame testFrame
		require.NoError(t, conn.ReadJSON(&frame), "waiting for %s frame", frameType)
		if frame.Type == frameType {
			return frame
		}
	}
}

func TestOrganizationRealtime(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodPost, "/api/organizations/org-1/members", gin.H{"email": "ada@example.com", "firstName": "Ada", "lastName": "Lovelace"})
	require.Equal(t, http.StatusCreated, w.Code)

	server := httptest.NewServer(env.router)
	defer server.Close()

	conn := dialRealtime(t, server, "org-1")

	snapshot := readUntil(t, conn, FrameMembers)
	var members []struct {
		ID   string `json:"id"`
		Role string `json:"role"`
	}
	require.NoError(t, json.Unmarshal(snapshot.Data, &members))
	require.Len(t, members, 1)
	assert.Equal(t, "OWNER", members[0].Role)

	// The subscription is live before the snapshot is sent.
	w = env.do(http.MethodPost, "/api/organizations/org-1/members", gin.H{"email": "grace@example.com", "firstName": "Grace", "lastName": "Hopper"})
	require.Equal(t, http.StatusCreated, w.Code)

	updated := readUntil(t, conn, FrameMembers)
	require.NoError(t, json.Unmarshal(updated.Data, &members))
	require.Len(t, members, 2)

	notice := readUntil(t, conn, FrameNotice)
	var joined struct {
		Kind    string `json:"kind"`
		Title   string `json:"title"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(notice.Data, &joined))
	assert.Equal(t, "MEMBER_JOINED", joined.Kind)
	assert.Equal(t, "New member joined", joined.Title)
	assert.Equal(t, "Grace Hopper joined the organization", joined.Message)

	graceID := members[0].ID
	if members[0].Role == "OWNER" {
		graceID = members[1].ID
	}
	w = env.do(http.MethodPatch, "/api/organizations/org-1/members/"+graceID, gin.H{"role": "ADMIN"})
	require.Equal(t, http.StatusOK, w.Code)

	notice = readUntil(t, conn, FrameNotice)
	require.NoError(t, json.Unmarshal(notice.Data, &joined))
	assert.Equal(t, "ROLE_CHANGED", joined.Kind)
	assert.Equal(t, "Grace Hopper's role changed to admin", joined.Message)
}

func TestOrganizationRealtime_IgnoresOtherOrganizations(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	conn := dialRealtime(t, server, "org-1")
	readUntil(t, conn, FrameMembers)

	w := env.do(http.MethodPost, "/api/organizations/org-2/members", gin.H{"email": "ada@example.com"})
	require.Equal(t, http.StatusCreated, w.Code)

	_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	for {
		var frame testFrame
		if err := conn.ReadJSON(&frame); err != nil {
			break
		}
		assert.NotEqual(t, FrameNotice, frame.Type)
	}
}
