package ari

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/antoniostano/ivrsat/internal/observability"
)

// Controller is the call-control surface the IVR engine drives: recording
// with fixed parameters, upload-then-play, dialplan continuation and
// recording retrieval.
type Controller struct {
	client  *Client
	media   *MediaStore
	record  RecordParams
	logger  *zap.Logger
	metrics *observability.Metrics
}

func NewController(client *Client, media *MediaStore, record RecordParams, logger *zap.Logger, metrics *observability.Metrics) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		client:  client,
		media:   media,
		record:  record,
		logger:  logger.With(zap.String("component", "ari_controller")),
		metrics: metrics,
	}
}

func (c *Controller) StartRecording(ctx context.Context, channelID, name string) error {
	p := c.record
	p.Name = name
	return c.observe("record", func() error {
		_, err := c.client.Record(ctx, channelID, p)
		return err
	})
}

// PlayAudio publishes payload through the media store and plays it.
func (c *Controller) PlayAudio(ctx context.Context, channelID string, payload []byte) error {
	if c.media == nil {
		return errors.New("ari media store is not configured")
	}
	media, err := c.media.Put(payload)
	if err != nil {
		c.metrics.CommandError("play")
		return err
	}
	return c.observe("play", func() error {
		_, err := c.client.Play(ctx, channelID, media)
		return err
	})
}

func (c *Controller) ContinueInDialplan(ctx context.Context, channelID string, loc Location) error {
	return c.observe("continue", func() error {
		return c.client.Continue(ctx, channelID, loc)
	})
}

// FetchRecording downloads a stored recording and then deletes it from
// Asterisk. Deletion failures are logged only.
func (c *Controller) FetchRecording(ctx context.Context, name string) ([]byte, error) {
	started := time.Now()
	payload, err := c.client.StoredRecordingFile(ctx, name)
	if err != nil {
		c.metrics.CommandError("recording_fetch")
		return nil, err
	}
	c.metrics.ObserveStage(observability.StageRecordingFetch, time.Since(started))

	if err := c.client.DeleteStoredRecording(ctx, name); err != nil {
		c.logger.Warn("delete stored recording failed", zap.String("recording", name), zap.Error(err))
	}
	return payload, nil
}

func (c *Controller) observe(command string, fn func() error) error {
	started := time.Now()
	err := fn()
	if err != nil {
		c.metrics.CommandError(command)
		return err
	}
	c.metrics.ObserveStage(observability.StageCommand, time.Since(started))
	return nil
}
