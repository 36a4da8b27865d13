package diagram

import (
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/PigStep/Vibe-BPMN-studio/internal/bpmn"
	model "github.com/PigStep/Vibe-BPMN-studio/internal/model/diagram"
	"github.com/PigStep/Vibe-BPMN-studio/pkg/utils"
)

// Handler serves the starter diagrams.
type Handler struct {
	examplePath string
}

// New creates a handler reading the example diagram from examplePath.
func New(examplePath string) *Handler {
	return &Handler{examplePath: examplePath}
}

// RegisterRoutes 注册示例图的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/example-bpmn-xml", h.handleExample)
	r.Get("/base-bpmn-xml", h.handleBase)
}

func (h *Handler) handleExample(w http.ResponseWriter, r *http.Request) {
	log.Printf("[diagram] asked for example BPMN XML")

	xml, err := h.Example()
	if err != nil {
		slog.Error("[diagram] example diagram unavailable", "err", err)
		utils.RespondError(w, http.StatusInternalServerError, "example diagram unavailable")
		return
	}
	utils.RespondJSON(w, http.StatusOK, model.ExampleResponse{XML: xml})
}

func (h *Handler) handleBase(w http.ResponseWriter, r *http.Request) {
	xml, err := bpmn.Assemble(bpmn.BaseDocument())
	if err != nil {
		slog.Error("[diagram] base diagram unavailable", "err", err)
		utils.RespondError(w, http.StatusInternalServerError, "base diagram unavailable")
		return
	}
	utils.RespondJSON(w, http.StatusOK, model.ExampleResponse{XML: xml})
}

// Example returns the example diagram file, or the built-in example when the
// file is missing or empty.
func (h *Handler) Example() (string, error) {
	if h.examplePath != "" {
		data, err := os.ReadFile(h.examplePath)
		switch {
		case err == nil && strings.TrimSpace(string(data)) != "":
			return string(data), nil
		case err != nil && !os.IsNotExist(err):
			slog.Warn("[diagram] failed to read example file", "path", h.examplePath, "err", err)
		case err != nil:
			log.Printf("[diagram] file %s not found, using built-in example", h.examplePath)
		}
	}
	return bpmn.Assemble(bpmn.ExampleDocument())
}
