package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	camerarecorder "github.com/e7canasta/orion-care-sensor/modules/camera-recorder"
	"github.com/e7canasta/orion-care-sensor/modules/camera-recorder/gstbackend"
	"github.com/e7canasta/orion-care-sensor/modules/camera-recorder/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/camera-recorder/internal/control"
	"github.com/e7canasta/orion-care-sensor/modules/camera-recorder/internal/emitter"
	"github.com/e7canasta/orion-care-sensor/modules/camera-recorder/internal/library"
	"github.com/e7canasta/orion-care-sensor/modules/camera-recorder/internal/simulated"
)

// subscriberID names the daemon's state and outcome subscriptions
const subscriberID = "camerad-mqtt"

// Daemon is the camerad service orchestrator
type Daemon struct {
	cfg        *config.Config
	configPath string // watched for camera changes when set

	// Core components
	camera         *camerarecorder.Camera
	library        *library.DirLibrary
	emitter        *emitter.MQTTEmitter
	controlHandler *control.Handler
	health         *http.Server

	outcomes chan camerarecorder.Outcome

	// Lifecycle management
	started    time.Time
	mu         sync.RWMutex
	wg         sync.WaitGroup
	isRunning  bool
	cancelCtx  context.CancelFunc // For MQTT shutdown command
	emitCancel context.CancelFunc
}

// Overrides replace configuration file values. Empty fields keep the file's value.
type Overrides struct {
	Backend    string
	StorageDir string
	LibraryDir string
}

// Apply writes the overrides into cfg and validates the result
func (o Overrides) Apply(cfg *config.Config) error {
	if o.Backend != "" {
		cfg.Backend = o.Backend
	}
	if o.StorageDir != "" {
		cfg.Recording.StorageDir = o.StorageDir
	}
	if o.LibraryDir != "" {
		cfg.Library.Dir = o.LibraryDir
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid override: %w", err)
	}
	return nil
}

// New loads the configuration, applies overrides and builds the camera. A
// camera that cannot be configured (no device, busy device) still yields a
// daemon: it reports the failure through get_status and recovers on
// reconfigure.
func New(configPath string, overrides Overrides) (*Daemon, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := overrides.Apply(cfg); err != nil {
		return nil, err
	}

	slog.Info("configuration loaded",
		"instance_id", cfg.InstanceID,
		"backend", cfg.Backend,
		"storage_dir", cfg.Recording.StorageDir,
		"library_dir", cfg.Library.Dir,
	)

	backend, err := NewBackend(cfg)
	if err != nil {
		return nil, err
	}
	d, err := NewWithBackend(cfg, backend)
	if err != nil {
		return nil, err
	}
	d.configPath = configPath
	return d, nil
}

// NewWithBackend builds the daemon on an existing backend
func NewWithBackend(cfg *config.Config, backend camerarecorder.Backend) (*Daemon, error) {
	settings, err := Settings(cfg.Camera)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:      cfg,
		emitter:  emitter.NewMQTTEmitter(cfg),
		outcomes: make(chan camerarecorder.Outcome, 16),
	}

	opts := camerarecorder.Options{
		StorageDir:  cfg.Recording.StorageDir,
		StopTimeout: cfg.StopTimeout(),
	}
	if cfg.Library.Dir != "" {
		lib, err := library.NewDirLibrary(cfg.Library.Dir, cfg.InstanceID)
		if err != nil {
			return nil, fmt.Errorf("failed to open library: %w", err)
		}
		d.library = lib
		opts.Library = lib
	}

	camera, err := camerarecorder.NewCamera(backend, settings, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create camera: %w", err)
	}
	d.camera = camera

	if info := camera.Session(); info.ConfigErr != nil {
		slog.Warn("camera not configured, waiting for reconfigure",
			"settings", settings.String(),
			"error", info.ConfigErr,
		)
	}

	return d, nil
}

// NewBackend creates the capture backend selected by the configuration
func NewBackend(cfg *config.Config) (camerarecorder.Backend, error) {
	switch cfg.Backend {
	case "sim":
		slog.Info("using simulated capture backend")
		return simulated.New(simulated.Config{WriteFiles: true}), nil

	default:
		gcfg := gstbackend.Config{
			AudioSource: cfg.Camera.AudioSource,
			AudioDevice: cfg.Camera.AudioDevice,
			Bitrate:     cfg.Camera.BitrateKbps,
		}
		if len(cfg.Camera.VideoDevices) > 0 {
			gcfg.VideoDevices = make(map[camerarecorder.DevicePosition]string, len(cfg.Camera.VideoDevices))
			for facing, node := range cfg.Camera.VideoDevices {
				f, err := camerarecorder.ParseFacing(facing)
				if err != nil {
					return nil, err
				}
				gcfg.VideoDevices[f.Position()] = node
			}
		}

		backend, err := gstbackend.New(gcfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create gstreamer backend: %w", err)
		}
		return backend, nil
	}
}

// Settings converts the camera section into capture settings
func Settings(c config.CameraConfig) (camerarecorder.CaptureSettings, error) {
	facing, err := camerarecorder.ParseFacing(c.Facing)
	if err != nil {
		return camerarecorder.CaptureSettings{}, err
	}
	resolution, err := camerarecorder.ParseResolution(c.Resolution)
	if err != nil {
		return camerarecorder.CaptureSettings{}, err
	}
	return camerarecorder.CaptureSettings{
		Facing:     facing,
		Resolution: resolution,
		FrameRate:  c.FrameRate,
	}, nil
}

// Camera returns the managed camera
func (d *Daemon) Camera() *camerarecorder.Camera {
	return d.camera
}

// Run connects to MQTT, starts the capture session and blocks until ctx is
// cancelled or a shutdown command arrives
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.emitter.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect mqtt: %w", err)
	}
	return d.run(ctx)
}

// run starts every component on an already connected emitter
func (d *Daemon) run(ctx context.Context) error {
	d.mu.Lock()
	if d.isRunning {
		d.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	d.isRunning = true
	d.started = time.Now()
	d.mu.Unlock()

	// Create cancellable context for MQTT shutdown command
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Publishing outlives ctx so the completion of a recording stopped
	// during shutdown still reaches the broker
	emitCtx, emitCancel := context.WithCancel(context.Background())

	d.mu.Lock()
	d.cancelCtx = cancel
	d.emitCancel = emitCancel
	d.mu.Unlock()

	slog.Info("camerad service starting", "instance_id", d.cfg.InstanceID)

	states, err := d.camera.Subscribe(subscriberID)
	if err != nil {
		return fmt.Errorf("failed to subscribe to state: %w", err)
	}
	if err := d.camera.SubscribeOutcomes(subscriberID, d.outcomes); err != nil {
		return fmt.Errorf("failed to subscribe to outcomes: %w", err)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.emitter.Run(emitCtx, states, d.outcomes)
	}()

	d.controlHandler = control.NewHandler(d.cfg, d.emitter.Client, d.callbacks())
	if err := d.controlHandler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start control handler: %w", err)
	}

	if err := d.camera.StartSession(); err != nil {
		slog.Warn("capture session not started", "error", err)
	}

	if d.configPath != "" {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := config.Watch(ctx, d.configPath, d.applyConfig); err != nil {
				slog.Warn("config hot reload disabled", "error", err)
			}
		}()
	}

	<-ctx.Done()
	slog.Info("camerad service run loop finished")
	return nil
}

// Shutdown stops the control plane, finishes any recording, then drains
// the publisher and disconnects from MQTT
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.isRunning {
		d.mu.Unlock()
		d.stopHealthServer(ctx)
		return d.camera.Close(ctx)
	}
	d.isRunning = false
	uptime := time.Since(d.started)
	cancel, emitCancel := d.cancelCtx, d.emitCancel
	d.mu.Unlock()

	slog.Info("shutting down camerad service")

	// Ends Run and the config watcher
	if cancel != nil {
		cancel()
	}

	// 1. No new commands
	if d.controlHandler != nil {
		if err := d.controlHandler.Stop(); err != nil {
			slog.Error("failed to stop control handler", "error", err)
		}
	}

	// 2. Finish the recording and close the camera (closes the state and outcome buses)
	var errs []error
	if err := d.camera.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	close(d.outcomes)

	// 3. Wait for the publisher to drain
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("publisher did not drain before shutdown timeout")
		errs = append(errs, ctx.Err())
	}
	if emitCancel != nil {
		emitCancel()
	}

	d.stopHealthServer(ctx)

	// 4. Disconnect MQTT
	if err := d.emitter.Disconnect(); err != nil {
		slog.Error("failed to disconnect mqtt", "error", err)
	}

	slog.Info("camerad service shutdown complete", "uptime", uptime)
	return errors.Join(errs...)
}

// ShutdownTimeout returns the configured graceful shutdown timeout
func (d *Daemon) ShutdownTimeout() time.Duration {
	timeout := d.cfg.ShutdownTimeout()
	if timeout == 0 {
		return 5 * time.Second
	}
	return timeout
}

// Status reports the camera for get_status and the readiness probe
func (d *Daemon) Status() map[string]interface{} {
	info := d.camera.Session()
	state := d.camera.State()
	stats := d.camera.Stats()

	status := map[string]interface{}{
		"instance_id":     d.cfg.InstanceID,
		"session_running": info.Running,
		"functional":      info.Functional,
		"settings":        info.Settings.String(),
		"resolved":        info.Resolved.String(),
		"has_audio":       info.HasAudio,
		"video_device":    info.VideoDevice,
		"phase":           state.Phase.String(),
		"is_recording":    state.IsRecording(),
		"attempts":        stats.Attempts,
		"completed":       stats.Completed,
		"failed":          stats.Failed,
		"timed_out":       stats.TimedOut,
		"saved":           stats.Saved,
		"save_failed":     stats.SaveFailed,
		"mqtt_connected":  d.emitter.Stats().Connected,
	}
	if info.ConfigErr != nil {
		status["config_error"] = info.ConfigErr.Error()
	}
	if state.LastError != nil {
		status["last_error"] = state.LastError.Error()
	}
	if state.LastCompletedPath != "" {
		status["last_completed_path"] = state.LastCompletedPath
	}

	d.mu.RLock()
	if d.isRunning {
		status["uptime_s"] = int64(time.Since(d.started).Seconds())
	}
	d.mu.RUnlock()

	return status
}

func (d *Daemon) callbacks() control.CommandCallbacks {
	return control.CommandCallbacks{
		OnGetStatus: d.Status,
		OnStartRecording: func() (string, string, error) {
			attempt, err := d.camera.StartRecording()
			if err != nil {
				return "", "", err
			}
			return attempt.ID, attempt.Path, nil
		},
		OnStopRecording: d.camera.StopRecording,
		OnStartSession:  d.camera.StartSession,
		OnStopSession: func() error {
			d.camera.StopSession()
			return nil
		},
		OnReconfigure: d.reconfigure,
		OnShutdown: func() error {
			d.mu.RLock()
			cancel := d.cancelCtx
			d.mu.RUnlock()
			if cancel == nil {
				return fmt.Errorf("service not running")
			}
			cancel()
			return nil
		},
	}
}

// applyConfig reloads the camera when the camera section of a changed
// configuration file resolves to different settings. Other sections only
// take effect on restart.
func (d *Daemon) applyConfig(cfg *config.Config) {
	settings, err := Settings(cfg.Camera)
	if err != nil {
		slog.Error("invalid camera settings in changed config", "error", err)
		return
	}

	current := d.camera.Session().Settings
	if settings == current {
		slog.Info("config changed, camera settings unchanged (other changes need a restart)")
		return
	}

	slog.Info("config changed, reconfiguring camera",
		"from", current.String(),
		"to", settings.String(),
	)
	if err := d.camera.Reload(settings); err != nil {
		slog.Error("failed to apply camera settings from config", "error", err)
	}
}

// reconfigure applies update on top of the current settings
func (d *Daemon) reconfigure(update control.SettingsUpdate) (string, error) {
	settings := d.camera.Session().Settings

	if update.Facing != "" {
		f, err := camerarecorder.ParseFacing(update.Facing)
		if err != nil {
			return "", err
		}
		settings.Facing = f
	}
	if update.Resolution != "" {
		r, err := camerarecorder.ParseResolution(update.Resolution)
		if err != nil {
			return "", err
		}
		settings.Resolution = r
	}
	if update.FrameRate > 0 {
		settings.FrameRate = update.FrameRate
	}

	if err := d.camera.Reload(settings); err != nil {
		return "", err
	}
	return settings.String(), nil
}
