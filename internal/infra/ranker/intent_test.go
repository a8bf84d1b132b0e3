package ranker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"falforge/internal/domain"
)

func TestAnalyzeQuery_ImageSupplied(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  bool
	}{
		{"png url", "restyle https://cdn.example.com/photo.png as a sketch", true},
		{"jpeg url uppercase", "use HTTPS://HOST/PIC.JPG please", true},
		{"url with query string", "https://x.test/a.webp?w=512 to anime", true},
		{"this image", "make this image brighter", true},
		{"uploaded image", "turn the uploaded image into a poster", true},
		{"attached photo", "describe the attached photo", true},
		{"image_url param", "run with image_url=https://x.test/in", true},
		{"image colon param", "image: s3://bucket/cat, make it vintage", true},
		{"plain mention of images", "an image of a cat on a roof", false},
		{"picture request", "draw me a picture of the sea", false},
		{"no mention", "a castle at dusk", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, queryMentionsImage(tt.query))
			assert.Equal(t, tt.want, analyzeQuery(tt.query).suppliesImage)
		})
	}
}

func TestAnalyzeQuery_Intents(t *testing.T) {
	fast := analyzeQuery("a quick image of a fox, needs to be fast")
	assert.True(t, fast.wantsSpeed)
	assert.False(t, fast.wantsRealism)

	real := analyzeQuery("photorealistic portrait of an old sailor")
	assert.True(t, real.wantsRealism)
	assert.False(t, real.wantsSpeed)

	art := analyzeQuery("a watercolor painting of mountains")
	assert.True(t, art.wantsArtistic)

	short := analyzeQuery("a fox")
	assert.False(t, short.longPrompt)

	long := analyzeQuery(strings.Repeat("sprawling cyberpunk cityscape drenched in neon rain ", 9))
	assert.True(t, long.longPrompt)
}

func TestAnalyzeQuery_Keywords(t *testing.T) {
	signals := analyzeQuery("Generate, a lake; generate a BIG lake!")
	// Short tokens drop, punctuation is trimmed, duplicates collapse.
	assert.NotContains(t, signals.keywords, "a")
	assert.Contains(t, signals.keywords, "generate")
	assert.Contains(t, signals.keywords, "big")
	count := 0
	for _, kw := range signals.keywords {
		if kw == "generate" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestDetectCategories(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		hasImage bool
		want     []domain.Category
	}{
		{"video words", "a video of waves", false, []domain.Category{domain.CategoryTextToVideo}},
		{"video with image", "animate this, make a clip", true,
			[]domain.Category{domain.CategoryImageToVideo, domain.CategoryTextToVideo}},
		{"speech", "narrate it with a warm voice", false, []domain.Category{domain.CategoryTextToSpeech}},
		{"3d", "a 3d mesh of a chair", false, []domain.Category{domain.CategoryImageTo3D}},
		{"upscaling", "upscale to 4k", false, []domain.Category{domain.CategoryUpscaling}},
		{"image without input", "an image of a cat", false, []domain.Category{domain.CategoryTextToImage}},
		{"image with input", "an image like this one", true, []domain.Category{domain.CategoryImageToImage}},
		{"no signal", "something nice", false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detectCategories(queryFields(tt.query), tt.hasImage)
			assert.Equal(t, tt.want, got)
		})
	}
}
