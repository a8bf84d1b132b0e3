package ranker

import (
	"regexp"
	"strings"

	"falforge/internal/domain"
)

// querySignals is everything the heuristic stage reads off the raw query text.
type querySignals struct {
	keywords      []string
	categories    []domain.Category
	wantsSpeed    bool
	wantsRealism  bool
	wantsArtistic bool
	longPrompt    bool
	suppliesImage bool
}

const longPromptWords = 40

var (
	imageURLRe    = regexp.MustCompile(`(?i)https?://\S+\.(?:png|jpe?g|gif|webp|bmp|tiff?)(?:\?\S*)?`)
	imagePhraseRe = regexp.MustCompile(`(?i)\b(?:this|that|the|my|uploaded|attached|provided|given)\s+(?:image|photo|picture|screenshot)\b`)
	imageParamRe  = regexp.MustCompile(`(?i)\bimage(?:_url)?\s*[:=]\s*\S+`)

	speedRe    = regexp.MustCompile(`(?i)\b(?:fast|fastest|quick|quickly|rapid|speedy|instant|low[- ]latency)\b`)
	realismRe  = regexp.MustCompile(`(?i)\b(?:photo[- ]?realistic|photorealism|realistic|realism|lifelike|photographic)\b`)
	artisticRe = regexp.MustCompile(`(?i)\b(?:artistic|stylized|illustration|painting|watercolor|anime|cartoon|sketch|vector|pixel[- ]art)\b`)
)

func analyzeQuery(query string) querySignals {
	fields := queryFields(query)
	hasImage := queryMentionsImage(query)
	return querySignals{
		keywords:      extractKeywords(fields),
		categories:    detectCategories(fields, hasImage),
		wantsSpeed:    speedRe.MatchString(query),
		wantsRealism:  realismRe.MatchString(query),
		wantsArtistic: artisticRe.MatchString(query),
		longPrompt:    len(fields) > longPromptWords,
		suppliesImage: hasImage,
	}
}

// queryMentionsImage reports whether the query itself shows an image is in
// hand: an image URL, a reference to "this image" and friends, or an
// image parameter spelled out inline.
func queryMentionsImage(query string) bool {
	return imageURLRe.MatchString(query) ||
		imagePhraseRe.MatchString(query) ||
		imageParamRe.MatchString(query)
}

func queryFields(query string) []string {
	raw := strings.Fields(strings.ToLower(query))
	out := make([]string, 0, len(raw))
	for _, f := range raw {
		f = strings.Trim(f, `.,;:!?"'()[]{}`)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// extractKeywords keeps the distinct fields long enough to carry meaning.
func extractKeywords(fields []string) []string {
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) <= 2 || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func detectCategories(fields []string, hasImage bool) []domain.Category {
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	anyOf := func(words ...string) bool {
		for _, w := range words {
			if set[w] {
				return true
			}
		}
		return false
	}

	var cats []domain.Category
	if anyOf("video", "videos", "animation", "animate", "clip", "footage", "movie") {
		if hasImage {
			cats = append(cats, domain.CategoryImageToVideo)
		}
		cats = append(cats, domain.CategoryTextToVideo)
	}
	if anyOf("speech", "voice", "voiceover", "narrate", "narration", "tts", "speak") {
		cats = append(cats, domain.CategoryTextToSpeech)
	}
	if anyOf("3d", "mesh", "sculpt") {
		cats = append(cats, domain.CategoryImageTo3D)
	}
	if anyOf("upscale", "upscaled", "upscaling", "sharpen", "denoise") {
		cats = append(cats, domain.CategoryUpscaling)
	}
	if anyOf("image", "images", "picture", "pictures", "photo", "photos", "illustration",
		"portrait", "poster", "logo", "wallpaper", "artwork", "drawing", "painting") {
		if hasImage {
			cats = append(cats, domain.CategoryImageToImage)
		} else {
			cats = append(cats, domain.CategoryTextToImage)
		}
	}
	return cats
}
