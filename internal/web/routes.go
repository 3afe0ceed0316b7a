package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/encounters/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	peopleHandler := handlers.NewPeopleHandler(s.deps.Store, s.deps.Reconcile)
	encountersHandler := handlers.NewEncountersHandler(s.deps.Store, s.deps.Reconcile)
	facesHandler := handlers.NewFacesHandler(s.deps.Store, s.deps.Detector, s.deps.Embedder, s.deps.Propagator, s.deps.Policy)
	tagsHandler := handlers.NewTagsHandler(s.deps.Store)
	scanHandler := handlers.NewScanHandler(s.deps.Pipeline, s.jobManager)

	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		// People
		r.Get("/people", peopleHandler.List)
		r.Post("/people", peopleHandler.Create)
		r.Get("/people/{id}", peopleHandler.Get)
		r.Put("/people/{id}", peopleHandler.Update)
		r.Delete("/people/{id}", peopleHandler.Delete)
		r.Post("/people/{id}/merge", peopleHandler.Merge)
		r.Get("/people/{id}/encounters", peopleHandler.Encounters)
		r.Get("/people/{id}/embeddings", peopleHandler.Embeddings)
		r.Delete("/embeddings/{embeddingId}", peopleHandler.DeleteEmbedding)

		// Encounters
		r.Get("/encounters", encountersHandler.List)
		r.Get("/encounters/{id}", encountersHandler.Get)
		r.Put("/encounters/{id}", encountersHandler.Update)
		r.Delete("/encounters/{id}", encountersHandler.Delete)
		r.Post("/encounters/{id}/merge", encountersHandler.Merge)
		r.Post("/encounters/{id}/photos/move", encountersHandler.MovePhotos)
		r.Get("/encounters/{id}/thumbnail", encountersHandler.Thumbnail)
		r.Get("/encounters/{id}/photos/{photoId}", encountersHandler.Photo)

		// Face boxes
		r.Post("/encounters/{id}/boxes/{boxId}/label", facesHandler.Assign)
		r.Delete("/encounters/{id}/boxes/{boxId}/label", facesHandler.ClearLabel)
		r.Get("/encounters/{id}/boxes/{boxId}/suggestions", facesHandler.Suggest)
		r.Post("/encounters/{id}/photos/{photoId}/redetect", facesHandler.Redetect)
		r.Post("/encounters/{id}/photos/{photoId}/locate", facesHandler.Locate)

		// Tags
		r.Get("/tags", tagsHandler.List)
		r.Post("/tags", tagsHandler.Create)
		r.Put("/tags/{id}", tagsHandler.Update)
		r.Delete("/tags/{id}", tagsHandler.Delete)

		// Scan (long-running operations)
		r.Post("/scan", scanHandler.Start)
		r.Get("/scan", scanHandler.List)
		r.Get("/scan/{jobId}", scanHandler.Status)
		r.Get("/scan/{jobId}/events", scanHandler.Events)
		r.Delete("/scan/{jobId}", scanHandler.Cancel)
		r.Post("/scan/{jobId}/save", scanHandler.SaveGroup)
	})
}
