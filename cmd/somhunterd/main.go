// Command somhunterd is the process entrypoint: load the configuration
// document, load the frame/feature data it points at, build the engine, and
// serve a minimal control surface. The startup sequence (numbered log lines,
// best-effort optional collaborators, graceful shutdown on SIGINT/SIGTERM)
// follows cmd/worker/main.go's runStandaloneMode; the actual HTTP/API
// surface, config parsing, and image decoding it fronts are out of scope
// (spec.md §1) — this binary only wires the core together and exposes a
// liveness endpoint.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/somhunter/internal/archive"
	"github.com/adverant/somhunter/internal/canvas"
	"github.com/adverant/somhunter/internal/config"
	"github.com/adverant/somhunter/internal/display"
	"github.com/adverant/somhunter/internal/evalclient"
	"github.com/adverant/somhunter/internal/featurestore"
	"github.com/adverant/somhunter/internal/framestore"
	"github.com/adverant/somhunter/internal/keyword"
	"github.com/adverant/somhunter/internal/logging"
	"github.com/adverant/somhunter/internal/models"
	"github.com/adverant/somhunter/internal/queue"
	"github.com/adverant/somhunter/internal/relocation"
	"github.com/adverant/somhunter/internal/sessioncore"
	"github.com/adverant/somhunter/internal/som"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the somhunterd configuration document")
	flag.Parse()

	log.Println("somhunterd starting...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	log.Printf("✓ configuration loaded from %s", *configPath)

	frames, err := loadFrameStore(cfg.Datasets)
	if err != nil {
		log.Fatalf("Failed to load frame catalogue: %v", err)
	}
	log.Printf("✓ FrameStore initialized (%d frames)", frames.Len())

	primary, err := loadMatrix(cfg.Datasets.PrimaryFeatures.FeaturesFile,
		cfg.Datasets.PrimaryFeatures.FeaturesFileDataOff, frames.Len(), cfg.Datasets.PrimaryFeatures.FeaturesDim)
	if err != nil {
		log.Fatalf("Failed to load primary feature matrix: %v", err)
	}
	log.Printf("✓ FeatureStore primary matrix initialized (%dx%d)", primary.Rows(), primary.Dim())

	var secondary *featurestore.Matrix
	if cfg.Datasets.SecondaryFeatures.FeaturesFile != "" {
		secondary, err = loadMatrix(cfg.Datasets.SecondaryFeatures.FeaturesFile,
			cfg.Datasets.SecondaryFeatures.FeaturesFileDataOff, frames.Len(), cfg.Datasets.SecondaryFeatures.FeaturesDim)
		if err != nil {
			log.Printf("WARNING: failed to load secondary feature matrix: %v", err)
		} else {
			log.Printf("✓ FeatureStore secondary matrix initialized (%dx%d)", secondary.Rows(), secondary.Dim())
		}
	}
	featureStore := &featurestore.Store{Primary: primary, Secondary: secondary}

	words, err := loadKeywordRanker(cfg.Datasets.PrimaryFeatures, primary)
	if err != nil {
		log.Fatalf("Failed to load keyword ranker: %v", err)
	}
	log.Println("✓ KeywordRanker initialized")

	// The alternative text scoring path reuses the same lexicon and
	// projection, bound to the secondary matrix.
	var wordsSecondary *keyword.Ranker
	if secondary != nil {
		wordsSecondary, err = loadKeywordRanker(cfg.Datasets.PrimaryFeatures, secondary)
		if err != nil {
			log.Printf("WARNING: secondary keyword ranker disabled: %v", err)
			wordsSecondary = nil
		} else {
			log.Println("✓ secondary KeywordRanker initialized")
		}
	}

	reloc := relocation.New(primary)

	// No region tensor or image encoder is loaded here. The engine scores
	// canvas moments in positioned mode, so every canvas query surfaces a
	// request-level error rather than panicking.
	canvasRanker := canvas.New(words, nil, nil, primary)

	gridW, gridH := 16, 16
	mainSom := som.New(gridW, gridH, primary, 1)
	momentSom := make([]*som.Worker, 0, models.MaxTemporalSize)
	for i := 0; i < models.MaxTemporalSize; i++ {
		momentSom = append(momentSom, som.New(gridW, gridH, primary, int64(2+i)))
	}
	log.Println("✓ SOM workers constructed")

	logger, err := logging.New(logging.Config{
		SummaryPath:      cfg.EvalServer.LogDirSummary,
		ActionsPath:      cfg.EvalServer.LogDirActions,
		ResultsPath:      cfg.EvalServer.LogDirResults,
		LogActionTimeout: time.Duration(cfg.EvalServer.LogActionTimeout) * time.Millisecond,
		ExtraVerbose:     cfg.EvalServer.ExtraVerboseLog,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Close()
	log.Println("✓ Logger initialized")

	var sessionLogger sessioncore.Logger = logger
	if cfg.Archive.PostgresURL != "" {
		store, err := archive.Open(cfg.Archive.PostgresURL)
		if err != nil {
			log.Printf("WARNING: Postgres log archive disabled: %v", err)
		} else {
			defer store.Close()
			sessionLogger = archivingLogger{Logger: logger, store: store}
			log.Println("✓ Postgres log archive initialized")
		}
	}

	eval, err := evalclient.New(cfg.EvalServer)
	if err != nil {
		log.Printf("WARNING: eval client disabled: %v", err)
		eval = nil
	} else if eval != nil {
		log.Println("✓ eval client initialized")
	} else {
		log.Println("INFO: eval_server.do_network_requests is false, submissions disabled")
	}

	var consumer *queue.Consumer
	if cfg.EvalServer.DoNetworkRequests {
		consumer, err = queue.NewConsumer(queue.Config{
			RedisURL: getEnv("REDIS_URL", "redis://localhost:6379"),
			Eval:     eval,
			Logger:   logger,
		})
		if err != nil {
			log.Printf("WARNING: background queue consumer disabled: %v", err)
			consumer = nil
		}
	}

	engine := sessioncore.New(sessioncore.Deps{
		Frames:    frames,
		Features:  featureStore,
		Words:          words,
		WordsSecondary: wordsSecondary,
		Canvas:         canvasRanker,
		Reloc:          reloc,
		MainSom:   mainSom,
		MomentSom: momentSom,
		Eval:   evalAdapter{eval},
		Logger: sessionLogger,
		Config: sessioncore.Config{
			Display: display.Config{
				PageSize:    cfg.PresentationViews.DisplayPageSize,
				TopNLimit:   1000,
				PerVideoCap: cfg.PresentationViews.TopNFramesPerVideo,
				PerShotCap:  cfg.PresentationViews.TopNFramesPerShot,
				RandomTemp:  1.0,
				GridW:       gridW,
				GridH:       gridH,
			},
		},
	})
	log.Println("✓ SessionCore engine ready")

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "ok frames=%d\n", frames.Len())
	})
	addr := fmt.Sprintf(":%d", cfg.API.Port)
	if cfg.API.LocalOnly {
		addr = fmt.Sprintf("127.0.0.1:%d", cfg.API.Port)
	}
	server := &http.Server{Addr: addr, Handler: mux}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if consumer != nil {
			if err := consumer.Start(); err != nil {
				errChan <- err
			}
		}
	}()
	go func() {
		log.Printf("✓ control surface listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	_ = engine // the full request surface driving Engine is out of scope (spec.md §1)

	select {
	case <-sigChan:
		log.Println("shutdown signal received, stopping gracefully...")
		server.Close()
		if consumer != nil {
			consumer.Stop()
		}
	case err := <-errChan:
		log.Printf("WARNING: somhunterd: %v", err)
	}

	log.Println("somhunterd stopped")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadFrameStore reads the fixed-width frames-list file (spec.md §6 "Frames
// list") into a framestore.FrameStore. Frame rows must already be ordered by
// VideoID then FrameNumber, matching framestore.New's contract.
func loadFrameStore(cfg config.DatasetsConfig) (*framestore.FrameStore, error) {
	data, err := os.ReadFile(cfg.FramesListFile)
	if err != nil {
		return nil, fmt.Errorf("somhunterd: read frames list: %w", err)
	}

	off := cfg.FilenameOffsets
	lines := splitLines(data)
	frames := make([]models.Frame, 0, len(lines))
	for i, line := range lines {
		if len(line) == 0 {
			continue
		}
		videoStr := sliceField(line, off.VidIDOff, off.VidIDLen)
		shotStr := sliceField(line, off.ShotIDOff, off.ShotIDLen)
		numStr := sliceField(line, off.FrameNumOff, off.FrameNumLen)

		var videoID, shotID, frameNum int
		fmt.Sscanf(videoStr, "%d", &videoID)
		fmt.Sscanf(shotStr, "%d", &shotID)
		fmt.Sscanf(numStr, "%d", &frameNum)

		frames = append(frames, models.Frame{
			FrameID:     models.FrameID(i),
			VideoID:     models.VideoID(videoID),
			ShotID:      models.ShotID(shotID),
			FrameNumber: frameNum,
		})
	}
	return framestore.New(frames)
}

func splitLines(data []byte) []string {
	var lines []string
	start := 0
	for i, b := range data {
		if b == '\n' {
			end := i
			if end > start && data[end-1] == '\r' {
				end--
			}
			lines = append(lines, string(data[start:end]))
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, string(data[start:]))
	}
	return lines
}

func sliceField(line string, off, length int) string {
	if off < 0 || off+length > len(line) {
		return ""
	}
	return line[off : off+length]
}

// loadMatrix reads a row-major float32 binary feature file (spec.md §6
// "Feature files"), skipping a leading data offset if configured.
func loadMatrix(path string, dataOff, rows, dim int) (*featurestore.Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("somhunterd: open %s: %w", path, err)
	}
	defer f.Close()

	if dataOff > 0 {
		if _, err := f.Seek(int64(dataOff), 0); err != nil {
			return nil, fmt.Errorf("somhunterd: seek %s: %w", path, err)
		}
	}

	data := make([]float32, rows*dim)
	if err := binary.Read(f, binary.LittleEndian, data); err != nil {
		return nil, fmt.Errorf("somhunterd: read %s: %w", path, err)
	}
	return featurestore.NewMatrix(data, rows, dim)
}

// loadKeywordRanker reads the keyword lexicon (spec.md §6
// datasets.primary_features.kw_*). The lexicon file format itself is
// external (spec.md §1); this loader assumes a simple newline-delimited
// "synsetID\tword1,word2,..." layout, matching how the teacher's
// config-driven loaders read plain delimited side files. No projection or
// PCA matrix file is read: the projection, bias, PCA mean and PCA matrix
// are zero-filled at the configured dimensions.
func loadKeywordRanker(cfg config.PrimaryFeatures, features *featurestore.Matrix) (*keyword.Ranker, error) {
	if cfg.KwsFile == "" {
		return keyword.New(keyword.Config{
			PreDim: 1, Dim: features.Dim(),
			Bias: make([]float32, 1), PCAMean: make([]float32, 1),
			PCAMat: make([][]float32, features.Dim()),
		}, features)
	}

	kwData, err := os.ReadFile(cfg.KwsFile)
	if err != nil {
		return nil, fmt.Errorf("somhunterd: read keywords file: %w", err)
	}
	var keywords []models.Keyword
	for i, line := range splitLines(kwData) {
		if line == "" {
			continue
		}
		var synsetID int64
		words := line
		if tab := strings.IndexByte(line, '\t'); tab >= 0 {
			fmt.Sscanf(line[:tab], "%d", &synsetID)
			words = line[tab+1:]
		}
		keywords = append(keywords, models.Keyword{
			ID:         models.KeywordID(i),
			SynsetID:   synsetID,
			SynsetStrs: strings.Split(words, ","),
		})
	}

	projection := make([][]float32, len(keywords))
	bias := make([]float32, cfg.PrePCAFeaturesDim)
	pcaMean := make([]float32, cfg.PrePCAFeaturesDim)
	pcaMat := make([][]float32, cfg.KwPCAMatDim)
	for i := range projection {
		projection[i] = make([]float32, cfg.PrePCAFeaturesDim)
	}
	for i := range pcaMat {
		pcaMat[i] = make([]float32, cfg.PrePCAFeaturesDim)
	}

	return keyword.New(keyword.Config{
		Keywords:   keywords,
		Projection: projection,
		Bias:       bias,
		PCAMean:    pcaMean,
		PCAMat:     pcaMat,
		PreDim:     cfg.PrePCAFeaturesDim,
		Dim:        cfg.KwPCAMatDim,
	}, features)
}

// archivingLogger tees every session log event into the best-effort
// Postgres archive on top of the regular file sinks. Archive failures are
// logged and swallowed inside the store, so the session never notices.
type archivingLogger struct {
	*logging.Logger
	store *archive.Store
}

func (a archivingLogger) LogReset() {
	a.Logger.LogReset()
	a.store.ArchiveAction(uuid.NewString(), "reset", models.ErrFrameID, nil)
}

func (a archivingLogger) LogContextSwitch(index, srcSearchCtxID int) {
	a.Logger.LogContextSwitch(index, srcSearchCtxID)
	a.store.ArchiveAction(uuid.NewString(), "context_switch", models.ErrFrameID, map[string]int{
		"index":             index,
		"src_search_ctx_id": srcSearchCtxID,
	})
}

func (a archivingLogger) LogLikeToggle(id models.FrameID, liked bool) {
	a.Logger.LogLikeToggle(id, liked)
	a.store.ArchiveAction(uuid.NewString(), "like", id, map[string]bool{"liked": liked})
}

func (a archivingLogger) LogBookmarkToggle(id models.FrameID, bookmarked bool) {
	a.Logger.LogBookmarkToggle(id, bookmarked)
	a.store.ArchiveAction(uuid.NewString(), "bookmark", id, map[string]bool{"bookmarked": bookmarked})
}

func (a archivingLogger) LogResults(ev display.ResultLogEvent, plainQuery string, likes models.ShownSet, used models.UsedTools) {
	a.Logger.LogResults(ev, plainQuery, likes, used)
	a.store.ArchiveResult(uuid.NewString(), ev, plainQuery, likes, used)
}

// evalAdapter adapts *evalclient.Client (which may be nil when network
// requests are disabled) to sessioncore.EvalClient without leaking a typed
// nil interface value into Engine.
type evalAdapter struct {
	c *evalclient.Client
}

func (a evalAdapter) Submit(frame models.FrameID) (sessioncore.SubmitResult, error) {
	if a.c == nil {
		return sessioncore.SubmitNotLoggedIn, nil
	}
	return a.c.Submit(frame)
}
