package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/gotk3/gotk3/glib"
	"github.com/gotk3/gotk3/gtk"

	"home/tempsim/internal/config"
	"home/tempsim/internal/logging"
	"home/tempsim/internal/mq"
	"home/tempsim/internal/publisher"
	"home/tempsim/internal/sensor"
)

const (
	majorTick = 10
	minorTick = 1
)

type window struct {
	cfg     *config.Config
	logger  *slog.Logger
	slider  *sensor.Slider
	session *publisher.Session

	lastSentLabel *gtk.Label
}

// Builds the window: slider, Start/Close buttons and the last-sent label.
func (w *window) build(temp *sensor.Temperature) (*gtk.Window, error) {
	win, err := gtk.WindowNew(gtk.WINDOW_TOPLEVEL)
	if err != nil {
		return nil, err
	}
	win.SetTitle(w.cfg.Title)
	win.SetDefaultSize(300, 200)
	win.Connect("destroy", func() {
		w.stop()
		gtk.MainQuit()
	})

	box, _ := gtk.BoxNew(gtk.ORIENTATION_VERTICAL, 10)
	win.Add(box)

	tempLabel, _ := gtk.LabelNew("Temperature")
	box.PackStart(tempLabel, false, false, 5)

	titleLabel, _ := gtk.LabelNew(w.cfg.Title)
	box.PackStart(titleLabel, false, false, 5)

	// Slider and Start button
	row, _ := gtk.BoxNew(gtk.ORIENTATION_HORIZONTAL, 10)
	{
		scale, err := gtk.ScaleNewWithRange(gtk.ORIENTATION_HORIZONTAL,
			float64(temp.Min()), float64(temp.Max()), 1)
		if err != nil {
			return nil, err
		}
		scale.SetDigits(0)
		scale.SetDrawValue(true)
		scale.SetValue(float64(temp.Load()))
		scale.SetHExpand(true)
		for _, m := range temp.Marks(minorTick, majorTick) {
			scale.AddMark(float64(m.Value), gtk.POS_BOTTOM, m.Label)
		}

		scale.Connect("button-press-event", func() bool {
			w.slider.Press()
			return false
		})
		scale.Connect("button-release-event", func() bool {
			v := w.slider.Release(scale.GetValue())
			w.logger.Debug("Slider released", "temp", v)
			return false
		})
		scale.Connect("value-changed", func() {
			if w.slider.Change(scale.GetValue()) {
				w.logger.Debug("Slider changed", "temp", temp.Load())
			}
		})

		startBut, _ := gtk.ButtonNewWithLabel("Start")
		startBut.Connect("clicked", w.start)

		row.PackStart(scale, true, true, 0)
		row.PackStart(startBut, false, false, 0)
	}
	box.PackStart(row, true, true, 5)

	w.lastSentLabel, _ = gtk.LabelNew("Last sent: -")
	box.PackStart(w.lastSentLabel, false, false, 5)

	closeBut, _ := gtk.ButtonNewWithLabel("Close")
	closeBut.Connect("clicked", w.close)
	box.PackStart(closeBut, false, false, 5)

	return win, nil
}

// start connects off the GTK main loop so the window stays responsive.
func (w *window) start() {
	w.logger.Info("Start pressed")
	go func() {
		err := w.session.Start(context.Background())
		switch {
		case errors.Is(err, publisher.ErrStartCancelled):
			w.logger.Info("Start cancelled by Close")
		case err != nil:
			w.logger.Error("Error on start", "error", err)
		}
	}()
}

// close stops publishing off the GTK main loop, like start.
func (w *window) close() {
	w.logger.Info("Close pressed")
	go w.stop()
}

func (w *window) stop() {
	if err := w.session.Close(); err != nil && !errors.Is(err, publisher.ErrNotRunning) {
		w.logger.Error("Error on close", "error", err)
	}
}

func (w *window) showPublished(temp int) {
	glib.IdleAdd(func() bool {
		w.lastSentLabel.SetText(fmt.Sprintf("Last sent: %d °C", temp))
		return false
	})
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFile)
	slog.SetDefault(logger)

	temp, err := sensor.NewTemperature(cfg.TempMin, cfg.TempMax, cfg.TempInit)
	if err != nil {
		logger.Error("Invalid temperature range", "error", err)
		os.Exit(1)
	}

	w := &window{
		cfg:    cfg,
		logger: logger,
		slider: sensor.NewSlider(temp),
	}
	w.session = publisher.NewSession(mq.NewClient(cfg, logger), temp, publisher.Options{
		Topic:          cfg.Topic,
		QoS:            byte(cfg.QoS),
		Interval:       cfg.Interval(),
		ConnectTimeout: cfg.ConnectTimeout(),
		OnPublish:      w.showPublished,
	}, logger)

	gtk.Init(nil)

	win, err := w.build(temp)
	if err != nil {
		logger.Error("Unable to create window", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting temperature simulator",
		"mqtt_broker", cfg.MQTTAddress(),
		"topic", cfg.Topic,
		"interval", cfg.Interval())

	win.ShowAll()
	gtk.Main()
}
