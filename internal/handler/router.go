package handler

import (
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/PigStep/Vibe-BPMN-studio/internal/config"
	"github.com/PigStep/Vibe-BPMN-studio/internal/handler/diagram"
	"github.com/PigStep/Vibe-BPMN-studio/internal/handler/generate"
	"github.com/PigStep/Vibe-BPMN-studio/internal/handler/session"
	middlewarePkg "github.com/PigStep/Vibe-BPMN-studio/internal/middleware"
	"github.com/PigStep/Vibe-BPMN-studio/internal/service/studio"
	"github.com/PigStep/Vibe-BPMN-studio/pkg/utils"
	"github.com/PigStep/Vibe-BPMN-studio/web"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(cfg *config.Config, studioSvc *studio.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(cfg.Server.AllowedOrigins))

	limiter := middlewarePkg.NewRateLimiter(cfg.Limits.GeneratePerMinute, cfg.Limits.GenerateBurst)

	generateHandler := generate.New(studioSvc, limiter.Middleware)
	diagramHandler := diagram.New(cfg.Server.ExampleXMLPath)
	sessionHandler := session.New(studioSvc, limiter)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"environment": cfg.App.Environment,
			"ai":          studioSvc.Available(),
			"storage":     cfg.Storage.Driver,
		})
	})

	r.Route("/api", func(api chi.Router) {
		generateHandler.RegisterRoutes(api)
		diagramHandler.RegisterRoutes(api)
		sessionHandler.RegisterRoutes(api)
	})

	r.Get("/", indexHandler(cfg.Server.IndexFile))
	r.Handle("/*", http.FileServer(http.FS(staticFS(cfg.Server.StaticDir))))

	return r
}

// staticFS serves dir when it exists on disk and the embedded assets otherwise.
func staticFS(dir string) fs.FS {
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return os.DirFS(dir)
		}
		log.Printf("[static] directory %s not found, serving embedded assets", dir)
	}
	return web.Public()
}

func indexHandler(indexFile string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := os.ReadFile(indexFile)
		if err != nil {
			data, err = web.Index()
		}
		if err != nil {
			utils.RespondError(w, http.StatusInternalServerError, "index unavailable")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(data); err != nil {
			slog.Warn("[static] failed to write index", "err", err)
		}
	}
}
