package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/caarlos0/env"

	"github.com/anne-pro-tools/aplights/internal/gpio"
	"github.com/anne-pro-tools/aplights/internal/logging"
	"github.com/anne-pro-tools/aplights/internal/metric"
	"github.com/anne-pro-tools/aplights/internal/serialport"
	"github.com/anne-pro-tools/aplights/internal/txring"
	"github.com/anne-pro-tools/aplights/lighting"
)

var (
	logger = logging.New("main")
	config = LightingConfig{}
)

type LightingConfig struct {
	SerialPort   string        `env:"SERIAL_PORT" envDefault:"/dev/ttyS2"`
	Baud         int           `env:"BAUD" envDefault:"38400"`
	PowerGPIO    int           `env:"POWER_GPIO" envDefault:"47"`
	QueueSize    int           `env:"QUEUE_SIZE" envDefault:"256"`
	ScanInterval time.Duration `env:"SCAN_INTERVAL" envDefault:"10ms"`
	SettleDelay  time.Duration `env:"SETTLE_DELAY" envDefault:"50ms"`
	InitialMode  int           `env:"INITIAL_MODE" envDefault:"1"`
	MetricsAddr  string        `env:"METRICS_ADDR" envDefault:":9402"`
}

func main() {
	defer logger.Sync()

	err := env.Parse(&config)
	if err != nil {
		logger.With(zap.Error(err)).Fatal("Failed to parse environment variables")
	}

	logger.With(zap.Any("config", config)).Info("Starting Anne Pro lighting daemon")

	logger.Info("Adjust SERIAL_PORT to the UART wired to the lighting chip.")
	logger.Info("Adjust POWER_GPIO to the pin powering the lighting chip.")
	logger.Info("Adjust SCAN_INTERVAL to change how often maintenance runs. (matches the keyboard's matrix scan cadence)")
	logger.Info("Adjust INITIAL_MODE to pick the lighting mode at startup. 0 keeps the backlight off.")
	logger.Info("Set METRICS_ADDR to empty to disable the /metrics listener.")
	logger.Info("Press Ctrl+C to stop")

	var queue *txring.Ring
	port, err := serialport.Open(config.SerialPort, config.Baud, func() { queue.FinishTransmission() })
	if err != nil {
		logger.With(zap.Error(err)).Fatal("Failed to open serial port")
	}
	defer port.Close()

	pin, err := gpio.OpenPin(config.PowerGPIO)
	if err != nil {
		logger.With(zap.Error(err)).Fatal("Failed to open power GPIO")
	}

	queue = txring.New(config.QueueSize, port)

	ctrl := lighting.New(lighting.Config{
		Pin:         pin,
		Queue:       queue,
		SettleDelay: config.SettleDelay,
	})

	if config.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			metric.StartMetrics(mux)
			if err := http.ListenAndServe(config.MetricsAddr, mux); err != nil {
				logger.With(zap.Error(err)).Error("Metrics listener failed")
			}
		}()
	}

	if config.InitialMode != lighting.ModeOff {
		ctrl.On()
		if err := ctrl.SetMode(uint8(config.InitialMode)); err != nil {
			logger.With(zap.Error(err)).Error("Failed to set initial mode")
		}
	}

	ticker := time.NewTicker(config.ScanInterval)
	defer ticker.Stop()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			ctrl.Update()
		case <-shutdown:
			logger.Info("Shutting down")
			if err := ctrl.SetMode(lighting.ModeOff); err != nil {
				logger.With(zap.Error(err)).Error("Failed to turn backlight off")
			}
			// Let the off packet reach the chip before power is cut.
			ctrl.Drain(time.Second)
			ctrl.Off()
			return
		}
	}
}
