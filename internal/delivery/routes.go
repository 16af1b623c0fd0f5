package delivery

import (
	"github.com/go-chi/chi/v5"

	"github.com/avelichko/dreamscribe/internal/ports"
)

func RegisterRoutes(r chi.Router, hAuth *AuthHandler, auth ports.AuthService, hRec *RecordingHandler) {

	// login
	r.Post("/api/login", hAuth.Login)

	r.Route("/recordings", func(r chi.Router) {
		r.Use(AuthMiddleware(auth))

		r.Post("/", hRec.Create)
		r.Post("/{id}/segments", hRec.AddSegment)
		r.Delete("/{id}/segments/{sid}", hRec.DeleteSegment)
		r.Get("/{id}/segments/status", hRec.SegmentStatus)
		r.Post("/{id}/force-recovery", hRec.ForceRecovery)
		r.Post("/{id}/finish", hRec.Finish)
		r.Get("/{id}/transcript", hRec.Transcript)
		r.Post("/{id}/upload-url", hRec.UploadURL)
	})
}
