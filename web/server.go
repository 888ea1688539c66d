package web

import (
	"log"
	"net/http"
	"os"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/mogaika/mmd_runtime/handles"
	"github.com/mogaika/mmd_runtime/status"
)

type server struct {
	ctx      *handles.Context
	hub      *status.Hub
	upgrader websocket.Upgrader
}

// NewRouter exposes ctx over http, hub may be nil
func NewRouter(ctx *handles.Context, hub *status.Hub) *mux.Router {
	s := &server{ctx: ctx, hub: hub}

	r := mux.NewRouter()
	r.HandleFunc("/json/models", s.HandlerJsonModels)
	r.HandleFunc("/json/models/{id}", s.HandlerJsonModel)
	r.HandleFunc("/json/models/{id}/layers", s.HandlerJsonModelLayers)
	r.HandleFunc("/json/models/{id}/bones", s.HandlerJsonModelBones)
	r.HandleFunc("/json/models/{id}/physics", s.HandlerJsonModelPhysics)
	r.HandleFunc("/json/motions", s.HandlerJsonMotions)
	r.HandleFunc("/json/motions/{id}", s.HandlerJsonMotion)
	r.HandleFunc("/action/tick", s.HandlerActionTick)
	r.HandleFunc("/action/models/{id}/layer/{layer}/{action}", s.HandlerActionLayer)
	r.HandleFunc("/action/models/{id}/morph/{morph}", s.HandlerActionMorph)
	r.HandleFunc("/action/models/{id}/physics/{action}", s.HandlerActionPhysics)
	r.HandleFunc("/action/models/{id}/materials", s.HandlerActionMaterials)
	r.HandleFunc("/action/models/{id}/delete", s.HandlerActionDeleteModel)
	r.HandleFunc("/action/motions/{id}/delete", s.HandlerActionDeleteMotion)
	r.HandleFunc("/dump/models/{id}", s.HandlerDumpModel)
	r.HandleFunc("/dump/motions/{id}", s.HandlerDumpMotion)
	r.HandleFunc("/export/models/{id}/{format}", s.HandlerExportModel)
	r.HandleFunc("/upload/models", s.HandlerUploadModel).Methods("POST")
	r.HandleFunc("/upload/motions", s.HandlerUploadMotion).Methods("POST")
	if hub != nil {
		r.HandleFunc("/ws/status", s.HandlerWsStatus)
	}
	return r
}

func StartServer(addr string, ctx *handles.Context, hub *status.Hub) error {
	h := handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(NewRouter(ctx, hub))
	h = handlers.LoggingHandler(os.Stdout, h)

	log.Printf("[web] Starting server %v", addr)

	return http.ListenAndServe(addr, h)
}
