package falqueue

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"falforge/internal/domain"
)

// Watch polls the job's status until it reaches a terminal state or ctx
// ends. The final event on the returned channel is always terminal
// (completed or failed), and the channel closes after it.
func (c *Client) Watch(ctx context.Context, receipt domain.ExecutionResult) <-chan domain.QueueEvent {
	events := make(chan domain.QueueEvent, 4)
	go c.watch(ctx, receipt, events)
	return events
}

func (c *Client) watch(ctx context.Context, receipt domain.ExecutionResult, events chan<- domain.QueueEvent) {
	defer close(events)

	// Buffered fast path first so a terminal event still lands after ctx
	// is canceled; block on the reader only when the buffer is full.
	emit := func(ev domain.QueueEvent) {
		select {
		case events <- ev:
			return
		default:
		}
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}
	fail := func(err error) {
		emit(domain.QueueEvent{Kind: domain.QueueEventFailed, Err: err})
	}

	if receipt.StatusURL == "" {
		fail(domain.E(domain.CodeInvalidArgument, "falqueue.watch", "receipt has no status URL", nil))
		return
	}

	last := ""
	maybeEmit := func(state domain.QueueState, pos *int) {
		key := string(state)
		if state == domain.QueueStateQueued && pos != nil {
			key = fmt.Sprintf("%s:%d", state, *pos)
		}
		if key == last {
			return
		}
		last = key
		switch state {
		case domain.QueueStateQueued:
			emit(domain.QueueEvent{Kind: domain.QueueEventQueued, Position: pos})
		case domain.QueueStateInProgress:
			emit(domain.QueueEvent{Kind: domain.QueueEventInProgress})
		}
	}

	maybeEmit(receipt.QueueState, receipt.QueuePosition)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fail(ctx.Err())
			return
		case <-ticker.C:
		}

		status, err := c.pollStatus(ctx, receipt.StatusURL)
		if err != nil {
			fail(err)
			return
		}
		if status.state() == domain.QueueStateCompleted {
			final := receipt
			final.QueueState = domain.QueueStateCompleted
			final.QueuePosition = nil
			emit(domain.QueueEvent{Kind: domain.QueueEventCompleted, Result: &final})
			return
		}
		maybeEmit(status.state(), status.QueuePosition)
	}
}

// Subscribe submits the job and follows it to completion, returning the
// final result with the generated media extracted from the response
// payload. timeout bounds the whole wait; zero means ctx alone bounds it.
func (c *Client) Subscribe(ctx context.Context, target Target, args map[string]any, timeout time.Duration) (domain.ExecutionResult, error) {
	receipt, err := c.Invoke(ctx, target, args)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var terminal domain.QueueEvent
	for ev := range c.Watch(ctx, receipt) {
		if ev.Terminal() {
			terminal = ev
		}
	}
	switch terminal.Kind {
	case domain.QueueEventCompleted:
	case domain.QueueEventFailed:
		return domain.ExecutionResult{}, domain.Wrap(domain.CodeUnavailable, "falqueue.subscribe", terminal.Err)
	default:
		return domain.ExecutionResult{}, domain.E(domain.CodeInternal, "falqueue.subscribe", "status stream ended without a terminal event", nil)
	}

	payload, err := c.Response(ctx, receipt.ResponseURL)
	if err != nil {
		return domain.ExecutionResult{}, err
	}

	final := receipt
	final.Status = domain.ExecutionCompleted
	final.QueueState = domain.QueueStateCompleted
	final.QueuePosition = nil
	final.Media = extractMedia(payload)
	c.logger.Info("job completed",
		zap.String("endpoint", target.EndpointID),
		zap.String("request_id", receipt.RequestID),
		zap.Int("media", len(final.Media)))
	return final, nil
}

// extractMedia normalizes the modality-specific payload shapes: an images
// array, single image/video/audio objects, a bare audio_url, or a 3D mesh.
func extractMedia(payload map[string]any) []domain.MediaOutput {
	var media []domain.MediaOutput
	if items, ok := payload["images"].([]any); ok {
		for _, item := range items {
			if m, ok := item.(map[string]any); ok {
				media = append(media, mediaFromMap(domain.MediaImage, m))
			}
		}
	}
	if m, ok := payload["image"].(map[string]any); ok {
		media = append(media, mediaFromMap(domain.MediaImage, m))
	}
	if m, ok := payload["video"].(map[string]any); ok {
		media = append(media, mediaFromMap(domain.MediaVideo, m))
	}
	if m, ok := payload["audio"].(map[string]any); ok {
		media = append(media, mediaFromMap(domain.MediaAudio, m))
	}
	if u, ok := payload["audio_url"].(string); ok {
		media = append(media, domain.MediaOutput{Kind: domain.MediaAudio, URL: u})
	}
	if m, ok := payload["model_mesh"].(map[string]any); ok {
		media = append(media, mediaFromMap(domain.MediaModel, m))
	}
	return media
}

func mediaFromMap(kind domain.MediaKind, m map[string]any) domain.MediaOutput {
	out := domain.MediaOutput{Kind: kind}
	if u, ok := m["url"].(string); ok {
		out.URL = u
	}
	if w, ok := m["width"].(float64); ok {
		out.Width = int(w)
	}
	if h, ok := m["height"].(float64); ok {
		out.Height = int(h)
	}
	if ct, ok := m["content_type"].(string); ok {
		out.ContentType = ct
	}
	return out
}
