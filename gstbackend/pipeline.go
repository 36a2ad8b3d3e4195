//go:build cgo

package gstbackend

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	camerarecorder "github.com/e7canasta/orion-care-sensor/modules/camera-recorder"
	"github.com/e7canasta/orion-care-sensor/modules/camera-recorder/internal/gstpipe"
)

// pipeline is one running GStreamer pipeline and its bus watcher
type pipeline struct {
	pipeline  *gst.Pipeline
	sink      *app.Sink
	recording bool
	path      string
	startedAt time.Time

	cancel    context.CancelFunc
	watchDone chan struct{}
}

// pipelineEnd reports that a pipeline posted EOS (err nil) or an error
type pipelineEnd struct {
	p   *pipeline
	err error
}

// play parses cfg, brings it to PLAYING and starts watching its bus.
// The pipeline's end is reported on ended.
func (s *Session) play(ctx context.Context, cfg gstpipe.PipelineConfig, ended chan<- pipelineEnd) (*pipeline, error) {
	launch, err := gstpipe.BuildLaunch(cfg)
	if err != nil {
		return nil, err
	}

	gp, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return nil, fmt.Errorf("gstbackend: failed to parse pipeline: %w", err)
	}

	elem, err := gp.GetElementByName(gstpipe.PreviewSinkName)
	if err != nil {
		gp.SetState(gst.StateNull)
		return nil, fmt.Errorf("gstbackend: failed to get preview sink: %w", err)
	}
	sink := app.SinkFromElement(elem)
	if sink == nil {
		gp.SetState(gst.StateNull)
		return nil, fmt.Errorf("gstbackend: preview element is not an appsink")
	}

	width, height := cfg.PreviewWidth, cfg.PreviewHeight
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return s.onPreviewSample(sink, width, height)
		},
	})

	if err := gp.SetState(gst.StatePlaying); err != nil {
		gp.SetState(gst.StateNull)
		return nil, fmt.Errorf("gstbackend: failed to start pipeline: %w", err)
	}
	if err := waitPlaying(gp, s.backend.cfg.StartTimeout); err != nil {
		gp.SetState(gst.StateNull)
		s.countError(err)
		return nil, err
	}

	pctx, cancel := context.WithCancel(ctx)
	p := &pipeline{
		pipeline:  gp,
		sink:      sink,
		recording: cfg.Recording(),
		path:      cfg.RecordPath,
		startedAt: time.Now(),
		cancel:    cancel,
		watchDone: make(chan struct{}),
	}
	go s.watchBus(pctx, p, ended)

	slog.Info("gstbackend: pipeline playing",
		"device", cfg.VideoDevice,
		"caps", gstpipe.RawCaps(cfg.Width, cfg.Height, cfg.FrameRate),
		"recording", p.recording,
		"path", p.path,
	)
	return p, nil
}

// waitPlaying polls the bus until the pipeline reaches PLAYING, errors or timeout expires
func waitPlaying(gp *gst.Pipeline, timeout time.Duration) error {
	bus := gp.GetPipelineBus()
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			return newPipelineError(gerr.Error(), gerr.DebugString())

		case gst.MessageStateChanged:
			if msg.Source() != gp.GetName() {
				continue
			}
			if _, to := msg.ParseStateChanged(); to == gst.StatePlaying {
				return nil
			}
		}
	}

	return fmt.Errorf("gstbackend: pipeline did not reach PLAYING within %v", timeout)
}

// watchBus polls the pipeline bus until EOS, an error, or ctx is done
func (s *Session) watchBus(ctx context.Context, p *pipeline, ended chan<- pipelineEnd) {
	defer close(p.watchDone)

	bus := p.pipeline.GetPipelineBus()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Short timeout for responsive shutdown
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Info("gstbackend: end of stream received",
				"recording", p.recording,
				"path", p.path,
				"uptime", time.Since(p.startedAt),
			)
			s.notifyEnded(ctx, ended, pipelineEnd{p: p})
			return

		case gst.MessageError:
			gerr := msg.ParseError()
			perr := newPipelineError(gerr.Error(), gerr.DebugString())
			s.countError(perr)

			slog.Error("gstbackend: pipeline error",
				"error", perr.Message,
				"debug", perr.Debug,
				"category", perr.Category.String(),
				"recording", p.recording,
				"uptime", time.Since(p.startedAt),
				"frames_processed", atomic.LoadUint64(&s.frames),
			)
			s.notifyEnded(ctx, ended, pipelineEnd{p: p, err: perr})
			return

		case gst.MessageStateChanged:
			if msg.Source() == p.pipeline.GetName() {
				from, to := msg.ParseStateChanged()
				slog.Debug("gstbackend: pipeline state changed",
					"from", from,
					"to", to,
				)
			}
		}
	}
}

func (s *Session) notifyEnded(ctx context.Context, ended chan<- pipelineEnd, end pipelineEnd) {
	select {
	case ended <- end:
	case <-ctx.Done():
	}
}

// onPreviewSample copies the newest preview frame out of the appsink
func (s *Session) onPreviewSample(sink *app.Sink, width, height int) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		// A single bad sample must not stop the pipeline
		slog.Warn("gstbackend: failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("gstbackend: failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return gst.FlowOK
	}
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("gstbackend: empty buffer received")
		return gst.FlowOK
	}

	// GStreamer reuses the buffer
	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	seq := atomic.AddUint64(&s.frames, 1)
	atomic.AddUint64(&s.bytesRead, uint64(len(frameData)))

	s.latest.Store(&camerarecorder.PreviewFrame{
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     width,
		Height:    height,
		Data:      frameData,
		TraceID:   uuid.New().String(),
	})

	return gst.FlowOK
}

// stop halts the bus watcher and sets the pipeline to NULL
func (p *pipeline) stop() {
	if p == nil {
		return
	}
	p.cancel()
	<-p.watchDone

	if err := p.pipeline.SetState(gst.StateNull); err != nil {
		slog.Error("gstbackend: failed to set pipeline to NULL", "error", err)
	}
}

// sendEOS asks the pipeline to drain; the watcher reports the resulting EOS
func (p *pipeline) sendEOS() bool {
	return p.pipeline.SendEvent(gst.NewEOSEvent())
}

// drain stops the watcher, then sends EOS and waits for it itself so the
// muxer can finalize the file before the pipeline is destroyed
func (p *pipeline) drain(timeout time.Duration) error {
	p.cancel()
	<-p.watchDone

	defer func() {
		if err := p.pipeline.SetState(gst.StateNull); err != nil {
			slog.Error("gstbackend: failed to set pipeline to NULL", "error", err)
		}
	}()

	if !p.sendEOS() {
		return fmt.Errorf("gstbackend: pipeline rejected EOS")
	}

	bus := p.pipeline.GetPipelineBus()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			return nil
		case gst.MessageError:
			gerr := msg.ParseError()
			return newPipelineError(gerr.Error(), gerr.DebugString())
		}
	}
	return ErrEOSTimeout
}
