package falcat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"falforge/internal/domain"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := New(Options{
		BaseURL:     server.URL,
		SpecBaseURL: server.URL,
		HTTPClient:  server.Client(),
		RateLimit:   1000,
		RateBurst:   1000,
		Logger:      zap.NewNop(),
	})
	return client, server
}

func searchResponse(items ...map[string]any) []map[string]any {
	return []map[string]any{
		{"result": map[string]any{"data": map[string]any{"json": map[string]any{"items": items}}}},
	}
}

func TestClient_Search_ParsesEnvelope(t *testing.T) {
	var gotInput string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/trpc/models.list", r.URL.Path)
		require.Equal(t, "1", r.URL.Query().Get("batch"))
		gotInput = r.URL.Query().Get("input")
		_ = json.NewEncoder(w).Encode(searchResponse(
			map[string]any{
				"id":               "fal-ai/flux/dev",
				"title":            "FLUX.1 [dev]",
				"category":         "text-to-image",
				"tags":             []string{"flux"},
				"shortDescription": "High quality text to image",
			},
			map[string]any{
				"id":       "fal-ai/flux/dev/image-to-image",
				"title":    "FLUX.1 [dev] Image to Image",
				"category": "image-to-image",
			},
		))
	}))

	records, err := client.Search(context.Background(), "mountain sunset", []string{"text-to-image"}, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "fal-ai/flux/dev", records[0].ID)
	assert.Equal(t, domain.CategoryTextToImage, records[0].Category)
	assert.False(t, records[0].RequiresImage)
	assert.True(t, records[1].RequiresImage)

	// The filters travel in the documented JSON envelope parameter.
	var input map[string]map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(gotInput), &input))
	filters := input["0"]["json"]
	assert.Equal(t, "mountain sunset", filters["query"])
	assert.Equal(t, []any{"text-to-image"}, filters["categories"])
	assert.Equal(t, float64(10), filters["limit"])
}

func TestClient_Search_UpstreamError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))

	_, err := client.Search(context.Background(), "cat", nil, 5)
	require.Error(t, err)
	status, ok := domain.HTTPStatusFrom(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadGateway, status)
}

func TestClient_Search_EmptyEnvelope(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("[]"))
	}))
	records, err := client.Search(context.Background(), "cat", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestClient_FetchSpec_ParsesDocument(t *testing.T) {
	var gotEndpointID string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/openapi.json", r.URL.Path)
		gotEndpointID = r.URL.Query().Get("endpoint_id")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"openapi": "3.0.0",
			"info":    map[string]any{"title": "FLUX.1 [dev]", "description": "Image generation"},
			"servers": []map[string]any{{"url": "https://queue.fal.run"}},
			"paths": map[string]any{
				"/fal-ai/flux/dev": map[string]any{"post": map[string]any{}},
			},
			"components": map[string]any{
				"schemas": map[string]any{
					"FluxInput": map[string]any{"type": "object"},
				},
			},
		})
	}))

	doc, err := client.FetchSpec(context.Background(), "fal-ai/flux/dev")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "fal-ai/flux/dev", gotEndpointID)
	assert.Equal(t, "FLUX.1 [dev]", doc.Info.Title)
	assert.Equal(t, "https://queue.fal.run", doc.ServerURL())
	assert.Equal(t, "/fal-ai/flux/dev", doc.PostPath())
	assert.Contains(t, doc.Components.Schemas, "FluxInput")
}

func TestClient_FetchSpec_AbsenceIsNil(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"not found", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "no spec", http.StatusNotFound)
		}},
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("{not json"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, tt.handler)
			doc, err := client.FetchSpec(context.Background(), "fal-ai/ghost")
			assert.NoError(t, err)
			assert.Nil(t, doc)
		})
	}
}

func TestClient_FetchSpec_ContextCancellation(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.FetchSpec(ctx, "fal-ai/flux/dev")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClient_Prime_ServesLocalSearch(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(searchResponse(
			map[string]any{"id": "fal-ai/flux/dev", "title": "FLUX dev", "category": "text-to-image", "shortDescription": "image generation"},
			map[string]any{"id": "fal-ai/kling/video", "title": "Kling", "category": "text-to-video", "shortDescription": "video generation"},
			map[string]any{"id": "fal-ai/retoucher", "title": "Retoucher", "category": "image-to-image", "shortDescription": "photo retouching"},
		))
	}))

	require.NoError(t, client.Prime(context.Background()))
	require.True(t, client.Primed())

	records, err := client.Search(context.Background(), "video", nil, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "fal-ai/kling/video", records[0].ID)

	records, err = client.Search(context.Background(), "", []string{"text-to-image"}, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "fal-ai/flux/dev", records[0].ID)

	// One remote call for priming; searches after that stay local.
	assert.Equal(t, 1, calls)
}

func TestClient_Model_PrimedLooksUpByID(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(searchResponse(
			map[string]any{"id": "fal-ai/flux/dev", "title": "FLUX dev", "category": "text-to-image", "shortDescription": "image generation"},
		))
	}))
	require.NoError(t, client.Prime(context.Background()))

	rec, err := client.Model(context.Background(), "fal-ai/flux/dev")
	require.NoError(t, err)
	assert.Equal(t, "FLUX dev", rec.Title)

	_, err = client.Model(context.Background(), "fal-ai/ghost")
	assert.ErrorIs(t, err, domain.ErrModelNotFound)
}

func TestClient_Model_UnprimedSearchesExact(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(searchResponse(
			map[string]any{"id": "fal-ai/flux/dev/image-to-image", "title": "FLUX i2i", "category": "image-to-image"},
			map[string]any{"id": "fal-ai/flux/dev", "title": "FLUX dev", "category": "text-to-image"},
		))
	}))

	rec, err := client.Model(context.Background(), "fal-ai/flux/dev")
	require.NoError(t, err)
	assert.Equal(t, "fal-ai/flux/dev", rec.ID)
	assert.Equal(t, "FLUX dev", rec.Title)
}

func TestClient_Model_SearchErrorPropagates(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))

	_, err := client.Model(context.Background(), "fal-ai/flux/dev")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrModelNotFound)
}

func TestLocalSearch_Limit(t *testing.T) {
	records := []domain.ModelRecord{
		{ID: "a", Title: "cat one", Category: domain.CategoryTextToImage},
		{ID: "b", Title: "cat two", Category: domain.CategoryTextToImage},
		{ID: "c", Title: "cat three", Category: domain.CategoryTextToImage},
	}
	got := localSearch(records, "cat", nil, 2)
	assert.Len(t, got, 2)
}

func TestRequiresImageInput(t *testing.T) {
	tests := []struct {
		name  string
		model catalogModel
		want  bool
	}{
		{"image-to-image category", catalogModel{Category: "image-to-image"}, true},
		{"image-to-video category", catalogModel{Category: "image-to-video"}, true},
		{"video-to-video category", catalogModel{Category: "video-to-video"}, true},
		{"text-to-image category", catalogModel{Category: "text-to-image"}, false},
		{"img2img tag", catalogModel{Category: "text-to-image", Tags: []string{"img2img"}}, true},
		{"inpainting tag", catalogModel{Category: "text-to-image", Tags: []string{"Inpainting"}}, true},
		{"plain tags", catalogModel{Category: "text-to-image", Tags: []string{"flux", "fast"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, requiresImageInput(tt.model))
		})
	}
}
