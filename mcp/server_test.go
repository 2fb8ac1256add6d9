package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextframe/contextframe-go/capabilities"
	"github.com/contextframe/contextframe-go/config"
	"github.com/contextframe/contextframe-go/services/impl"
	"github.com/contextframe/contextframe-go/storage"
)

const (
	u1 = "11111111-1111-4111-8111-111111111111"
	u2 = "22222222-2222-4222-8222-222222222222"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	ctx := context.Background()
	dataset, err := impl.CreateDataset(ctx, "file://"+t.TempDir()+"/ds.cf", 4, &storage.TableOptions{})
	require.NoError(t, err)
	embedder := capabilities.NewHashEmbedder(4)
	cache, err := impl.NewCacheService(nil, nil)
	require.NoError(t, err)
	cfg := &config.Config{}
	cfg.Server.ToolTimeout = 30
	return NewServer(cfg, ServerDeps{
		Dataset:     dataset,
		Search:      impl.NewSearchService(dataset, embedder),
		Collections: impl.NewCollectionService(dataset),
		Cache:       cache,
		Embedder:    embedder,
	})
}

func call(t *testing.T, s *Server, method string, params any) Response {
	t.Helper()
	var raw json.RawMessage
	if params != nil {
		var err error
		raw, err = json.Marshal(params)
		require.NoError(t, err)
	}
	return s.Dispatch(context.Background(), Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  raw,
		ID:      json.RawMessage(`1`),
	}, "", "test")
}

func resultMap(t *testing.T, resp Response) map[string]any {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected error: %+v", resp.Error)
	data, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestDispatchParseError(t *testing.T) {
	s := testServer(t)
	resp := s.HandleRaw(context.Background(), []byte("{not json"), "", "test")
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeParseError, resp.Error.Code)
}

func TestDispatchInvalidRequest(t *testing.T) {
	s := testServer(t)
	resp := s.Dispatch(context.Background(), Request{JSONRPC: "1.0", Method: "health_check"}, "", "test")
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidRequest, resp.Error.Code)
}

func TestDispatchMethodNotFound(t *testing.T) {
	s := testServer(t)
	resp := call(t, s, "no_such_tool", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestDispatchInvalidParams(t *testing.T) {
	s := testServer(t)

	// Missing required parameter.
	resp := call(t, s, "document_get", map[string]any{})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)

	// Wrong type.
	resp = call(t, s, "document_get", map[string]any{"uuid": 42})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)

	// Unknown parameter.
	resp = call(t, s, "document_get", map[string]any{"uuid": u1, "verbose": true})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)

	// Enum violation.
	resp = call(t, s, "search_documents", map[string]any{"mode": "fuzzy"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestDocumentLifecycleOverRPC(t *testing.T) {
	s := testServer(t)

	resp := call(t, s, "document_create", map[string]any{
		"record": map[string]any{
			"uuid":         u1,
			"title":        "T",
			"text_content": "hello",
			"vector":       []float32{0, 1, 0, 0},
		},
	})
	created := resultMap(t, resp)
	require.NotNil(t, created["record"])

	resp = call(t, s, "document_exists", map[string]any{"uuid": u1})
	assert.Equal(t, true, resultMap(t, resp)["exists"])

	resp = call(t, s, "document_get", map[string]any{"uuid": u1})
	rec := resultMap(t, resp)["record"].(map[string]any)
	assert.Equal(t, "T", rec["title"])

	resp = call(t, s, "document_update", map[string]any{
		"uuid":   u1,
		"record": map[string]any{"uuid": u1, "title": "T2"},
	})
	rec = resultMap(t, resp)["record"].(map[string]any)
	assert.Equal(t, "T2", rec["title"])

	resp = call(t, s, "document_delete", map[string]any{"uuid": u1})
	assert.Equal(t, true, resultMap(t, resp)["deleted"])

	resp = call(t, s, "document_get", map[string]any{"uuid": u1})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeDocumentNotFound, resp.Error.Code)
}

func TestDocumentCreateRejectsUnknownField(t *testing.T) {
	s := testServer(t)
	resp := call(t, s, "document_create", map[string]any{
		"record": map[string]any{"title": "T", "rating": 5},
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestDocumentBatchTools(t *testing.T) {
	s := testServer(t)
	resp := call(t, s, "document_create_batch", map[string]any{
		"records": []map[string]any{
			{"uuid": u1, "title": "one"},
			{"uuid": u2, "title": "two"},
		},
	})
	created := resultMap(t, resp)
	assert.Equal(t, float64(2), created["created"])

	resp = call(t, s, "document_delete_batch", map[string]any{"uuids": []string{u1, u2}})
	assert.Equal(t, float64(2), resultMap(t, resp)["deleted"])
}

func TestSearchToolErrors(t *testing.T) {
	s := testServer(t)
	call(t, s, "document_create", map[string]any{
		"record": map[string]any{"uuid": u1, "title": "T", "text_content": "hello"},
	})

	resp := call(t, s, "search_documents", map[string]any{
		"mode": "text", "query": "hello", "filter": "title > 'a'", "auto_index": true,
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeFilterParseError, resp.Error.Code)

	resp = call(t, s, "search_documents", map[string]any{
		"mode": "text", "query": "hello",
	})
	require.NotNil(t, resp.Error, "text search without index and without auto_index must fail")
}

func TestSearchHybridOverRPC(t *testing.T) {
	s := testServer(t)
	call(t, s, "document_create", map[string]any{
		"record": map[string]any{
			"uuid": u1, "title": "T", "text_content": "hello",
			"vector": []float32{0, 1, 0, 0},
		},
	})
	resp := call(t, s, "search_documents", map[string]any{
		"mode": "hybrid", "query": "hello", "limit": 10, "auto_index": true,
	})
	result := resultMap(t, resp)
	hits := result["hits"].([]any)
	require.Len(t, hits, 1)
	hit := hits[0].(map[string]any)
	assert.InDelta(t, 1.0/61.0, hit["score"].(float64), 1e-12)
}

func TestCollectionToolsOverRPC(t *testing.T) {
	s := testServer(t)
	resp := call(t, s, "collection_create", map[string]any{"title": "Research", "collection": "A"})
	header := resultMap(t, resp)["record"].(map[string]any)
	headerID := header["uuid"].(string)

	call(t, s, "document_create", map[string]any{
		"record": map[string]any{"uuid": u1, "title": "member"},
	})
	resp = call(t, s, "collection_add_documents", map[string]any{
		"collection_id": headerID, "uuids": []string{u1},
	})
	resultMap(t, resp)

	resp = call(t, s, "collection_get", map[string]any{"collection_id": headerID})
	members := resultMap(t, resp)["members"].([]any)
	assert.Len(t, members, 1)

	resp = call(t, s, "collection_stats", map[string]any{"collection_id": headerID})
	stats := resultMap(t, resp)
	assert.Equal(t, float64(1), stats["member_count"])

	resp = call(t, s, "search_within_collection", map[string]any{
		"collection_id": headerID, "query": "*",
	})
	result := resultMap(t, resp)
	assert.Len(t, result["hits"].([]any), 1)

	resp = call(t, s, "collection_list", nil)
	assert.Equal(t, float64(1), resultMap(t, resp)["count"])
}

func TestSystemToolsOverRPC(t *testing.T) {
	s := testServer(t)

	resp := call(t, s, "health_check", nil)
	assert.Equal(t, "healthy", resultMap(t, resp)["status"])

	resp = call(t, s, "list_tools", nil)
	count := resultMap(t, resp)["count"].(float64)
	assert.Greater(t, count, float64(25))

	resp = call(t, s, "get_tool_info", map[string]any{"name": "document_get"})
	info := resultMap(t, resp)
	assert.Equal(t, "document_get", info["name"])

	resp = call(t, s, "get_tool_info", map[string]any{"name": "bogus"})
	require.NotNil(t, resp.Error)

	resp = call(t, s, "validate_dataset", nil)
	assert.Equal(t, true, resultMap(t, resp)["valid"])

	resp = call(t, s, "clear_cache", nil)
	resultMap(t, resp)

	resp = call(t, s, "server_info", nil)
	info = resultMap(t, resp)
	assert.Equal(t, "contextframe", info["service"])
}

func TestImportExportTasks(t *testing.T) {
	s := testServer(t)
	dir := t.TempDir()
	src := dir + "/in.jsonl"
	lines := ""
	for i := 0; i < 5; i++ {
		lines += fmt.Sprintf(`{"uuid": "%08d-0000-4000-8000-000000000000", "title": "doc %d"}`+"\n", i, i)
	}
	require.NoError(t, writeFile(src, lines))

	resp := call(t, s, "import_documents", map[string]any{"path": src})
	taskID := resultMap(t, resp)["task_id"].(string)
	waitForTask(t, s, taskID)

	resp = call(t, s, "document_list", nil)
	assert.Equal(t, float64(5), resultMap(t, resp)["count"])

	dst := dir + "/out.jsonl"
	resp = call(t, s, "export_documents", map[string]any{"path": dst})
	taskID = resultMap(t, resp)["task_id"].(string)
	waitForTask(t, s, taskID)

	resp = call(t, s, "import_documents", map[string]any{"path": dir + "/missing.jsonl"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestOptimizeDatasetOverRPC(t *testing.T) {
	s := testServer(t)
	call(t, s, "document_create", map[string]any{
		"record": map[string]any{"uuid": u1, "title": "a"},
	})
	call(t, s, "document_create", map[string]any{
		"record": map[string]any{"uuid": u2, "title": "b"},
	})
	resp := call(t, s, "optimize_dataset", nil)
	stats := resultMap(t, resp)["stats"].(map[string]any)
	assert.Equal(t, float64(2), stats["num_rows"])
	assert.Equal(t, float64(1), stats["num_fragments"])
}
