package chatwoot

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient("7", "cw-token", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c, srv
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient("", "token")
	require.Error(t, err)
	_, err = NewClient("7", "  ")
	require.Error(t, err)
}

func TestNewClient_DefaultBaseURL(t *testing.T) {
	c, err := NewClient("7", "token")
	require.NoError(t, err)
	require.Equal(t, defaultBaseURL, c.baseURL)
}

func TestDashboardURL(t *testing.T) {
	c, err := NewClient("7", "token", WithBaseURL("https://support.example.com/"))
	require.NoError(t, err)
	require.Equal(t, "https://support.example.com/app/accounts/7/conversations/42", c.DashboardURL(42))
}

func TestGetConversation(t *testing.T) {
	var gotPath, gotToken string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("api_access_token")
		_, _ = w.Write([]byte(`{"id":42,"custom_attributes":{"ai_thread_7":"thread-1"}}`))
	})

	conv, err := c.GetConversation(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, "/api/v1/accounts/7/conversations/42", gotPath)
	require.Equal(t, "cw-token", gotToken)
	require.Equal(t, 42, conv.ID)
	require.Equal(t, "thread-1", conv.CustomAttributes["ai_thread_7"])
}

func TestGetConversation_UpstreamError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	_, err := c.GetConversation(context.Background(), 42)
	require.Error(t, err)
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestUpdateConversationAttributes(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody attributesRequest
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &gotBody))
		_, _ = w.Write([]byte(`{}`))
	})

	err := c.UpdateConversationAttributes(context.Background(), 42, map[string]any{"ai_thread_7": "thread-1"})
	require.NoError(t, err)
	require.Equal(t, http.MethodPost, gotMethod)
	require.Equal(t, "/api/v1/accounts/7/conversations/42/custom_attributes", gotPath)
	require.Equal(t, "thread-1", gotBody.CustomAttributes["ai_thread_7"])
}

func TestUpdateConversationAttributes_Empty(t *testing.T) {
	c, err := NewClient("7", "token")
	require.NoError(t, err)
	require.Error(t, c.UpdateConversationAttributes(context.Background(), 42, nil))
}

func TestGetContact_WrappedPayload(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"payload":{"id":7,"name":"Jo","email":"jo@example.com"}}`))
	})

	contact, err := c.GetContact(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, 7, contact.ID)
	require.Equal(t, "jo@example.com", contact.Email)
}

func TestGetContact_UnwrappedPayload(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":7,"name":"Jo","email":"jo@example.com"}`))
	})

	contact, err := c.GetContact(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, 7, contact.ID)
}

func TestUpdateContactAttributes(t *testing.T) {
	var gotMethod, gotPath string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{}`))
	})

	err := c.UpdateContactAttributes(context.Background(), 7, map[string]any{"ai_thread_id": "thread-1"})
	require.NoError(t, err)
	require.Equal(t, http.MethodPut, gotMethod)
	require.Equal(t, "/api/v1/accounts/7/contacts/7", gotPath)
}

func TestSendMessage(t *testing.T) {
	var gotPath string
	var gotBody messageRequest
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &gotBody))
		_, _ = w.Write([]byte(`{}`))
	})

	err := c.SendMessage(context.Background(), 42, "Your order shipped yesterday.")
	require.NoError(t, err)
	require.Equal(t, "/api/v1/accounts/7/conversations/42/messages", gotPath)
	require.Equal(t, "Your order shipped yesterday.", gotBody.Content)
	require.Equal(t, "outgoing", gotBody.MessageType)
	require.False(t, gotBody.Private)
}

func TestSendMessage_EmptyContent(t *testing.T) {
	c, err := NewClient("7", "token")
	require.NoError(t, err)
	require.Error(t, c.SendMessage(context.Background(), 42, "   "))
}
