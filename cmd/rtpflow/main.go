// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/msolo/rtpflow/audio"
	"github.com/msolo/rtpflow/metrics"
	"github.com/msolo/rtpflow/netconfig"
	"github.com/msolo/rtpflow/netsim"
	"github.com/msolo/rtpflow/session"
	"github.com/msolo/rtpflow/transport"
)

func main() {
	app := &cli.App{
		Name:  "rtpflow",
		Usage: "RTP audio transport with FEC and NACK/RTX loss recovery",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "mode", Value: "both", Usage: "sender, receiver, or both"},
			&cli.StringFlag{Name: "sender-addr", Value: "127.0.0.1:5004", Usage: "sender's local bind address"},
			&cli.StringFlag{Name: "receiver-addr", Value: "127.0.0.1:5006", Usage: "receiver's local bind address"},
			&cli.Float64Flag{Name: "duration", Value: 5, Usage: "seconds to stream"},
			&cli.Float64Flag{Name: "interval", Value: 0.02, Usage: "seconds between media packets"},
			&cli.IntFlag{Name: "group-size", Value: 4, Usage: "FEC group size"},
			&cli.IntFlag{Name: "history-size", Value: 1000, Usage: "retransmission cache capacity"},
			&cli.IntFlag{Name: "buffer-bound", Value: 1000, Usage: "receiver reorder buffer capacity"},
			&cli.Float64Flag{Name: "nack-timeout", Value: 0.1, Usage: "per-sequence NACK suppression window, seconds"},
			&cli.StringFlag{Name: "wav-in", Usage: "WAV file to stream as the sender's source"},
			&cli.StringFlag{Name: "wav-out", Usage: "WAV file the receiver writes delivered audio into"},
			&cli.BoolFlag{Name: "simulate-network", Usage: "route traffic through the impairment middlebox"},
			&cli.StringFlag{Name: "middlebox-addr", Value: "127.0.0.1:5005", Usage: "middlebox's local bind address"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "if set, serve Prometheus metrics on this address"},
			&cli.StringFlag{Name: "config", Usage: "JSON config file; when set, its values replace all flag values"},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "zerolog level"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("rtpflow exited with error")
	}
}

func run(c *cli.Context) error {
	cfg, err := resolveConfig(c)
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	runID := uuid.NewString()
	log.Logger = log.Logger.With().Str("run_id", runID).Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var recv *session.Receiver
	var recvConn *transport.UDP

	receiverAddr := cfg.ReceiverAddr
	senderDest := receiverAddr

	if cfg.Mode == "receiver" || cfg.Mode == "both" {
		recvConn, err = transport.Listen(receiverAddr)
		if err != nil {
			return fmt.Errorf("receiver bind: %w", err)
		}
		defer recvConn.Close()

		sink, closeSink, err := buildSink(cfg.WavOut)
		if err != nil {
			return err
		}
		if closeSink != nil {
			defer closeSink()
		}

		recv = session.NewReceiver(recvConn, sink, session.ReceiverConfig{
			BufferBound: cfg.BufferBound,
			NackTimeout: cfg.NackTimeout(),
		}, log.Logger)

		if cfg.MetricsAddr != "" {
			exporter := metrics.NewReceiver(recv)
			srv := &http.Server{Addr: cfg.MetricsAddr, Handler: exporter.Handler()}
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error().Err(err).Msg("metrics server failed")
				}
			}()
			defer srv.Close()
		}

		go recv.Run(ctx)
		defer recv.Stop()
	}

	if cfg.SimulateNetwork && (cfg.Mode == "sender" || cfg.Mode == "both") {
		raddr, err := transport.ResolveUDPAddr(receiverAddr)
		if err != nil {
			return fmt.Errorf("resolve receiver addr: %w", err)
		}
		mb, err := netsim.New(cfg.MiddleboxAddr, raddr, netsim.Config{
			DropRate:      0.05,
			MaxDelay:      100 * time.Millisecond,
			ReorderRate:   0.1,
			DuplicateRate: 0.05,
		}, log.Logger)
		if err != nil {
			return fmt.Errorf("middlebox bind: %w", err)
		}
		mb.Start()
		defer mb.Stop()
		senderDest = cfg.MiddleboxAddr
	}

	var snd *session.Sender
	if cfg.Mode == "sender" || cfg.Mode == "both" {
		senderConn, err := transport.Listen(cfg.SenderAddr)
		if err != nil {
			return fmt.Errorf("sender bind: %w", err)
		}
		defer senderConn.Close()

		dest, err := transport.ResolveUDPAddr(senderDest)
		if err != nil {
			return fmt.Errorf("resolve send destination: %w", err)
		}

		source, closeSource, err := buildSource(cfg.WavIn)
		if err != nil {
			return err
		}
		if closeSource != nil {
			defer closeSource()
		}

		snd = session.NewSender(senderConn, dest, source, session.SenderConfig{
			Interval:    cfg.Interval(),
			Duration:    cfg.Duration(),
			GroupSize:   cfg.GroupSize,
			HistorySize: cfg.HistorySize,
		}, log.Logger)

		snd.Run(ctx)
		snd.Stop()
	} else {
		<-ctx.Done()
	}

	if recv != nil {
		printStats(recv.Stats.Snapshot())
	}

	return nil
}

func resolveConfig(c *cli.Context) (netconfig.Config, error) {
	cfg := netconfig.Config{
		Mode:               c.String("mode"),
		SenderAddr:         c.String("sender-addr"),
		ReceiverAddr:       c.String("receiver-addr"),
		DurationSeconds:    c.Float64("duration"),
		IntervalSeconds:    c.Float64("interval"),
		GroupSize:          c.Int("group-size"),
		HistorySize:        c.Int("history-size"),
		BufferBound:        c.Int("buffer-bound"),
		NackTimeoutSeconds: c.Float64("nack-timeout"),
		WavIn:              c.String("wav-in"),
		WavOut:             c.String("wav-out"),
		SimulateNetwork:    c.Bool("simulate-network"),
		MiddleboxAddr:      c.String("middlebox-addr"),
		MetricsAddr:        c.String("metrics-addr"),
		LogLevel:           c.String("log-level"),
	}

	if path := c.String("config"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("opening config: %w", err)
		}
		defer f.Close()
		fileCfg, err := netconfig.Load(f)
		if err != nil {
			return cfg, err
		}
		cfg = fileCfg
	}

	return cfg, nil
}

func buildSource(wavIn string) (session.Source, func(), error) {
	if wavIn == "" {
		return &audio.SyntheticSource{Payload: make([]byte, audio.FrameSize)}, nil, nil
	}
	f, err := os.Open(wavIn)
	if err != nil {
		return nil, nil, fmt.Errorf("opening wav-in: %w", err)
	}
	reader := audio.NewWavReader(f)
	if err := reader.ReadHeaders(); err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("reading wav-in headers: %w", err)
	}
	return audio.NewWavSource(reader), func() { f.Close() }, nil
}

func buildSink(wavOut string) (session.Sink, func(), error) {
	if wavOut == "" {
		return session.SinkFunc(func(uint16, []byte) {}), nil, nil
	}
	f, err := os.OpenFile(wavOut, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening wav-out: %w", err)
	}
	writer := audio.NewWavWriter(f)
	sink := audio.NewWavSink(writer)
	closeFn := func() {
		writer.Close()
		f.Close()
	}
	return sink, closeFn, nil
}

func setupLogging(level string) {
	lev, err := zerolog.ParseLevel(level)
	if err != nil || lev == zerolog.NoLevel {
		lev = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.StampMicro,
	}).With().Timestamp().Logger().Level(lev)
}

func printStats(snap session.Snapshot) {
	fmt.Printf("received=%d lost=%d out_of_order=%d nacks_sent=%d rtx_received=%d loss_rate=%.4f\n",
		snap.Received, snap.Lost, snap.OutOfOrder, snap.NacksSent, snap.RtxReceived, snap.LossRate)
}
