// Command relay runs the WHIP/WHEP media relay: the UDP media plane
// (Session Registry, ICE/DTLS/SRTP, Media Router, thumbnail extractor) and
// the HTTP signaling plane, wired together per §5's two-runtime split.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/logging"

	"github.com/SigmaColourMedia/SigmaMediaServer/internal/certstore"
	"github.com/SigmaColourMedia/SigmaMediaServer/internal/config"
	"github.com/SigmaColourMedia/SigmaMediaServer/internal/medialoop"
	"github.com/SigmaColourMedia/SigmaMediaServer/internal/metrics"
	"github.com/SigmaColourMedia/SigmaMediaServer/internal/room"
	"github.com/SigmaColourMedia/SigmaMediaServer/internal/session"
	"github.com/SigmaColourMedia/SigmaMediaServer/internal/signaling"
	"github.com/SigmaColourMedia/SigmaMediaServer/internal/thumbnail"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "relay:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	loggerFactory := logging.NewDefaultLoggerFactory()
	log := loggerFactory.NewLogger("relay")

	certs, err := certstore.Load(cfg.CertsDir)
	if err != nil {
		return fmt.Errorf("loading certificate store: %w", err)
	}

	mtr := metrics.New()

	extractor := thumbnail.NewExtractor(4, 32, cfg.ThumbnailInterval, stubDecoder{}, stubEncoder{}, loggerFactory.NewLogger("thumbnail"))
	defer extractor.Close()

	table := room.NewTable(cfg.MaxRooms, cfg.MaxViewersPerRoom, extractor, loggerFactory.NewLogger("room"))
	registry := session.NewRegistry(cfg.ICENominationTimeout, loggerFactory.NewLogger("session"))

	udpAddr := &net.UDPAddr{IP: net.ParseIP(cfg.UDPAddress), Port: cfg.UDPPort}
	loop, err := medialoop.New(udpAddr, medialoop.Config{
		Registry:             registry,
		Table:                table,
		Certificate:          certs.Certificate(),
		DTLSHandshakeTimeout: cfg.DTLSHandshakeTimeout,
		SessionIdleTimeout:   cfg.SessionIdleTimeout,
		IdleSweepInterval:    cfg.IdleSweepInterval,
		Counters:             mtr,
		Log:                  loggerFactory.NewLogger("medialoop"),
	})
	if err != nil {
		return fmt.Errorf("binding udp socket: %w", err)
	}

	sig := signaling.NewServer(registry, table, loop.LocalAddr(), certs.Fingerprint(), cfg.WHIPToken, cfg.FrontendURL, loggerFactory.NewLogger("signaling"))

	mux := http.NewServeMux()
	mux.Handle("/", sig.Handler())
	mux.Handle("/metrics", mtr.Handler())

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.TCPAddress, cfg.TCPPort),
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sampleMetrics(ctx, table, extractor, mtr)

	errCh := make(chan error, 2)
	go func() { errCh <- loop.Run(ctx) }()
	go func() {
		log.Infof("signaling listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Errorf("fatal: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	return nil
}

// sampleMetrics periodically copies room.Table and thumbnail.Extractor
// counters into the Prometheus gauges — cheap enough to run off the media
// loop's own goroutine, since none of it touches session state directly.
func sampleMetrics(ctx context.Context, table *room.Table, extractor *thumbnail.Extractor, mtr *metrics.Registry) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var lastDropped, lastFailed uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rooms, viewers := table.Counts()
			mtr.SetActiveRooms(rooms)
			mtr.SetActiveViewers(viewers)

			dropped, failed := extractor.Dropped(), extractor.Failed()
			mtr.AddThumbnailDropped(dropped - lastDropped)
			mtr.AddThumbnailFailed(failed - lastFailed)
			lastDropped, lastFailed = dropped, failed
		}
	}
}

// stubDecoder/stubEncoder satisfy thumbnail.VideoDecoder/ThumbnailEncoder
// without depending on a real H.264 codec or image encoder — both are
// external collaborators per §1's scope boundary. A deployment wires a
// real codec binding in their place; see DESIGN.md.
type stubDecoder struct{}

func (stubDecoder) Decode(accessUnit []byte) (thumbnail.Image, error) {
	return nil, errors.New("relay: no VideoDecoder configured")
}

type stubEncoder struct{}

func (stubEncoder) Encode(img thumbnail.Image) ([]byte, error) {
	return nil, errors.New("relay: no ThumbnailEncoder configured")
}
