package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/couchbase/gocb/v2"
	"github.com/fatih/color"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"perch/internal/bot"
	"perch/internal/cloud"
	"perch/internal/config"
	"perch/internal/language"
	"perch/internal/links"
	"perch/internal/mediacache"
	"perch/internal/postcache"
	"perch/internal/render"
	"perch/internal/resolver"
	"perch/internal/scraper"
	"perch/internal/server"
	"perch/internal/storage"
	"perch/internal/twitterapi"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Booting screen
	fmt.Println(color.CyanString(`                       _
 _ __   ___ _ __ ___| |__
| '_ \ / _ \ '__/ __| '_ \
| |_) |  __/ | | (__| | | |
| .__/ \___|_|  \___|_| |_|
|_|`))
	fmt.Println(color.New(color.FgHiCyan).Add(color.Bold).Sprint("perch"), "saved posts, cached media")
	color.HiBlack("==========================================\n")

	// --- Configuration Loading ---
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// --- Logger Setup ---
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithError(err).Warn("Invalid LOG_LEVEL, using info")
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	log.WithFields(logrus.Fields{
		"badgerdb_path": cfg.BadgerDBPath,
		"sqlite_path":   cfg.SQLitePath,
		"cloud":         cfg.CloudBackend,
		"scraper":       cfg.ScraperBackend,
	}).Info("Configuration loaded successfully")

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("perch stopped with an error")
	}
	log.Info("perch shut down gracefully.")
}

func run(cfg config.Config, log *logrus.Logger) error {
	// --- Storage ---
	repo := storage.NewBadgerRepository(cfg.BadgerDBPath, log)
	defer func() {
		log.Info("Closing database...")
		if err := repo.Close(); err != nil {
			log.WithError(err).Error("Error closing database")
		}
	}()

	posts, err := storage.NewSQLitePostStore(cfg.SQLitePath, log)
	if err != nil {
		return fmt.Errorf("failed to open post store: %w", err)
	}
	defer func() { _ = posts.Close() }()

	// --- Post pipeline ---
	res := resolver.New(log)
	var lang twitterapi.LanguageDetector
	if cfg.DetectLanguage {
		lang = language.NewDetector()
	}
	api := twitterapi.NewClient(cfg.TwitterAPIBaseURL, &http.Client{}, res, lang, log)

	postCache, err := postcache.NewCache(posts, log)
	if err != nil {
		return err
	}
	loader := postcache.NewLoader(postCache, api, newScraper(cfg, res, log), log)

	media := mediacache.NewManager(repo, mediacache.NewProxyFetcher(cfg.ProxyBaseURL, &http.Client{}), mediacache.Options{
		PublicBaseURL: cfg.PublicBaseURL,
		ProxyBaseURL:  cfg.ProxyBaseURL,
	}, log)
	renderer := render.NewRenderer(loader, media, log)
	// Media of freshly stored posts starts downloading before anyone asks.
	loader.OnUpdate(func(postID string) {
		remote := renderer.Warm(context.Background(), postID)
		log.WithFields(logrus.Fields{"post_id": postID, "remote_media": remote}).Debug("Post record updated")
	})

	// --- Links and cloud ---
	remote, closeRemote, err := newRemoteStore(cfg, log)
	if err != nil {
		return err
	}
	defer closeRemote()

	svc := links.NewService(links.Deps{
		Links:       repo,
		Credentials: repo,
		Verifier:    api,
		Prefetcher:  loader,
		Posts:       postCache,
		Cloud:       cloud.NewSyncer(remote, repo, log),
	}, log)

	// --- Application Startup ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	quartz := cron.New(cron.WithLogger(cron.PrintfLogger(log)))
	if _, err := quartz.AddFunc(cfg.SyncSchedule, func() { syncAll(ctx, repo, svc, log) }); err != nil {
		return fmt.Errorf("invalid SYNC_SCHEDULE %q: %w", cfg.SyncSchedule, err)
	}
	quartz.Start()
	defer quartz.Stop()

	httpServer := server.New(server.Deps{
		Links:         svc,
		Renderer:      renderer,
		Media:         repo,
		PublicBaseURL: cfg.PublicBaseURL,
	}, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpServer.Listen(cfg.HTTPAddr)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if cfg.TelegramBotToken != "" {
		botHandler, err := bot.NewHandler(cfg.TelegramBotToken, svc, renderer, bot.NewInMemoryLimiter(1, 3*time.Second, 5), log)
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		g.Go(func() error {
			botHandler.Start(gctx)
			return nil
		})
	} else {
		log.Info("TELEGRAM_BOT_TOKEN not set, Telegram bot disabled")
	}

	log.Info("perch is running. Press Ctrl+C to exit.")
	err = g.Wait()

	// --- Graceful Shutdown ---
	log.Info("Shutting down perch...")
	// A running sync still reaches the loader and the repository.
	<-quartz.Stop().Done()
	loader.Wait()
	media.Wait()
	return err
}

func newScraper(cfg config.Config, res *resolver.Resolver, log logrus.FieldLogger) scraper.Scraper {
	switch cfg.ScraperBackend {
	case config.ScraperRod:
		return scraper.NewRodScraper(res, log)
	case config.ScraperOEmbed:
		return scraper.NewOEmbedScraper(scraper.DefaultOEmbedURL, nil, log)
	default:
		return nil
	}
}

func newRemoteStore(cfg config.Config, log logrus.FieldLogger) (cloud.RemoteStore, func(), error) {
	switch cfg.CloudBackend {
	case config.CloudJSONBin:
		return cloud.NewJSONBinStore(cfg.JSONBinBaseURL, cfg.JSONBinMasterKey, &http.Client{}, log), func() {}, nil
	case config.CloudCouchbase:
		cluster, err := cloud.ConnectCouchbase(cfg.CouchbaseEndpoint, cfg.CouchbaseUsername, cfg.CouchbasePassword)
		if err != nil {
			return nil, nil, err
		}
		closeCluster := func() {
			if err := cluster.Close(&gocb.ClusterCloseOptions{}); err != nil {
				log.WithError(err).Error("Error closing couchbase cluster")
			}
		}
		store, err := cloud.NewCouchbaseStore(log, cluster, cfg.CouchbaseBucket)
		if err != nil {
			closeCluster()
			return nil, nil, err
		}
		return store, closeCluster, nil
	default:
		return nil, func() {}, nil
	}
}

// syncAll runs a cloud sync for every owner that has a credential.
func syncAll(ctx context.Context, owners storage.CredentialStore, svc *links.Service, log logrus.FieldLogger) {
	ids, err := owners.ListOwners(ctx)
	if err != nil {
		log.WithError(err).Error("Scheduled sync could not list owners")
		return
	}
	for _, owner := range ids {
		if ctx.Err() != nil {
			return
		}
		if _, err := svc.Sync(ctx, owner); err != nil {
			log.WithError(err).WithField("owner", owner).Warn("Scheduled sync failed")
		}
	}
	log.WithField("owners", len(ids)).Info("Scheduled sync finished")
}
