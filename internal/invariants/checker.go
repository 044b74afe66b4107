// Package invariants checks the compendium's externally visible guarantees
// through its public HTTP API only. The same checks run in-process in unit
// tests and against a deployed service under the invariants build tag.
package invariants

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// InvariantChecker drives a running service as a black box.
type InvariantChecker struct {
	baseURL string
	client  *http.Client
}

func NewInvariantChecker(baseURL string) *InvariantChecker {
	return &InvariantChecker{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

// VersionToken mirrors GET /api/cache/version.
type VersionToken struct {
	Version   string `json:"version"`
	Timestamp int64  `json:"timestamp"`
}

// Item is the subset of an item response the checks read.
type Item struct {
	ID     int64  `json:"id"`
	Type   string `json:"type"`
	Source string `json:"source"`
	Name   string `json:"name"`
}

// TestVersionAdvancesOnWrites: every local write installs a new version whose
// timestamp is strictly greater than the previous one.
func (ic *InvariantChecker) TestVersionAdvancesOnWrites(t *testing.T) {
	before := ic.version(t)
	item := ic.createItem(t, "spell", uniqueName("Versioned Spark"))

	after := ic.version(t)
	assert.NotEqual(t, before.Version, after.Version, "create must bump the version")
	assert.Greater(t, after.Timestamp, before.Timestamp, "version timestamps never move backwards")

	ic.makeRequest(t, http.MethodDelete, itemPath("spell", item.ID), nil, http.StatusNoContent)
	last := ic.version(t)
	assert.Greater(t, last.Timestamp, after.Timestamp, "delete must bump the version")
}

// TestDeletedItemsDisappear: a deleted item is gone from reads, lists and
// search immediately; deleting it again reports not found.
func (ic *InvariantChecker) TestDeletedItemsDisappear(t *testing.T) {
	name := uniqueName("Vanishing Glyph")
	item := ic.createItem(t, "spell", name)
	require.Contains(t, ic.searchIDs(t, "spell", name), item.ID, "new item must be searchable")

	ic.makeRequest(t, http.MethodDelete, itemPath("spell", item.ID), nil, http.StatusNoContent)

	ic.makeRequest(t, http.MethodGet, itemPath("spell", item.ID), nil, http.StatusNotFound)
	assert.NotContains(t, ic.searchIDs(t, "spell", name), item.ID)

	var page struct {
		Items []Item `json:"items"`
	}
	body := ic.makeRequest(t, http.MethodGet, "/api/compendium/spell?search="+url.QueryEscape(name), nil, http.StatusOK)
	require.NoError(t, json.Unmarshal(body, &page))
	for _, it := range page.Items {
		assert.NotEqual(t, item.ID, it.ID, "deleted item listed")
	}

	ic.makeRequest(t, http.MethodDelete, itemPath("spell", item.ID), nil, http.StatusNotFound)
}

// TestLocalItemsSurviveSync: a full sync replaces provider rows only; locally
// created items keep their id.
func (ic *InvariantChecker) TestLocalItemsSurviveSync(t *testing.T) {
	item := ic.createItem(t, "feat", uniqueName("Stubborn Resolve"))
	assert.Equal(t, "local", item.Source)

	ic.makeRequest(t, http.MethodPost, "/api/sync?wait=true", nil, http.StatusOK)

	var got Item
	body := ic.makeRequest(t, http.MethodGet, itemPath("feat", item.ID), nil, http.StatusOK)
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, item.ID, got.ID)
	assert.Equal(t, item.Name, got.Name)

	ic.makeRequest(t, http.MethodDelete, itemPath("feat", item.ID), nil, http.StatusNoContent)
}

// TestSearchResultsResolve: every search hit is readable by id with the same type.
func (ic *InvariantChecker) TestSearchResultsResolve(t *testing.T, itemType, query string) {
	for _, id := range ic.searchIDs(t, itemType, query) {
		var got Item
		body := ic.makeRequest(t, http.MethodGet, itemPath(itemType, id), nil, http.StatusOK)
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, id, got.ID)
		assert.Equal(t, itemType, got.Type)
	}
}

// Helper methods for API interactions

func (ic *InvariantChecker) version(t *testing.T) VersionToken {
	var tok VersionToken
	body := ic.makeRequest(t, http.MethodGet, "/api/cache/version", nil, http.StatusOK)
	require.NoError(t, json.Unmarshal(body, &tok))
	return tok
}

func (ic *InvariantChecker) createItem(t *testing.T, itemType, name string) Item {
	req := map[string]interface{}{
		"name":    name,
		"details": map[string]interface{}{"desc": name + " created by the invariant checker."},
	}
	var item Item
	body := ic.makeRequest(t, http.MethodPost, "/api/compendium/"+itemType, req, http.StatusCreated)
	require.NoError(t, json.Unmarshal(body, &item))
	require.NotZero(t, item.ID)
	return item
}

func (ic *InvariantChecker) searchIDs(t *testing.T, itemType, query string) []int64 {
	var res struct {
		Items []Item `json:"items"`
	}
	body := ic.makeRequest(t, http.MethodGet,
		fmt.Sprintf("/api/compendium/%s/search?q=%s", itemType, url.QueryEscape(query)), nil, http.StatusOK)
	require.NoError(t, json.Unmarshal(body, &res))
	ids := make([]int64, 0, len(res.Items))
	for _, it := range res.Items {
		ids = append(ids, it.ID)
	}
	return ids
}

func (ic *InvariantChecker) makeRequest(t *testing.T, method, path string, body interface{}, expectedStatus int) []byte {
	var reqBody []byte
	var err error

	if body != nil {
		reqBody, err = json.Marshal(body)
		require.NoError(t, err)
	}

	req, err := http.NewRequest(method, ic.baseURL+path, bytes.NewBuffer(reqBody))
	require.NoError(t, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := ic.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.Equal(t, expectedStatus, resp.StatusCode,
		"%s %s: %s", method, path, string(respBody))
	return respBody
}

func itemPath(itemType string, id int64) string {
	return "/api/compendium/" + itemType + "/" + strconv.FormatInt(id, 10)
}

func uniqueName(prefix string) string {
	return fmt.Sprintf("%s %d", prefix, time.Now().UnixNano())
}
