package ideaflowsdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientLoginThenApprove(t *testing.T) {
	var gotAuth string
	var gotPatch map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/login":
			json.NewEncoder(w).Encode(map[string]any{
				"message": "Login successful",
				"token":   "tok",
				"user":    map[string]any{"id": "1", "username": "po_user", "role": "PO"},
			})
		case r.Method == http.MethodPatch && r.URL.Path == "/api/initiatives/abc":
			gotAuth = r.Header.Get("Authorization")
			json.NewDecoder(r.Body).Decode(&gotPatch)
			json.NewEncoder(w).Encode(map[string]any{"id": "abc", "status": "approved", "adoWorkItemId": 12345})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL + "/api")
	user, err := c.Login(context.Background(), "po_user", "pw")
	require.NoError(t, err)
	assert.Equal(t, "PO", user.Role)
	assert.Equal(t, "tok", c.BearerToken)

	in, err := c.Approve(context.Background(), "abc", "Strong ROI")
	require.NoError(t, err)
	assert.Equal(t, "approved", in.Status)
	require.NotNil(t, in.ADOWorkItemID)
	assert.Equal(t, int64(12345), *in.ADOWorkItemID)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "approved", gotPatch["status"])
	assert.Equal(t, "Strong ROI", gotPatch["approvalReason"])
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":"permission_denied","message":"PO role required"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Delete(context.Background(), "abc")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, "permission_denied", apiErr.Code)
	assert.Equal(t, "PO role required", apiErr.Message)
}
