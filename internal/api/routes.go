package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	r.Get("/health", s.HandleHealth)

	r.Post("/auth/login", s.HandleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/gateways", func(r chi.Router) {
			r.Get("/", s.HandleListGateways)
			r.Post("/", s.HandleCreateGateway)
			r.Route("/{mac}", func(r chi.Router) {
				r.Get("/", s.HandleGetGateway)
				r.Put("/", s.HandleUpdateGateway)
				r.Delete("/", s.HandleDeleteGateway)
			})
		})

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.HandleListDevices)
			r.Post("/", s.HandleCreateDevice)
			r.Route("/{dev_eui}", func(r chi.Router) {
				r.Get("/", s.HandleGetDevice)
				r.Put("/", s.HandleUpdateDevice)
				r.Delete("/", s.HandleDeleteDevice)
			})
		})

		r.Route("/links/{dev_addr}", func(r chi.Router) {
			r.Get("/", s.HandleGetLink)
			r.Delete("/", s.HandleDeleteLink)
			r.Get("/frames", s.HandleListRxFrames)
			r.Post("/queue", s.HandleEnqueueDownlink)
		})

		r.Route("/ignored", func(r chi.Router) {
			r.Get("/", s.HandleListIgnored)
			r.Post("/", s.HandlePutIgnored)
			r.Delete("/{dev_addr}", s.HandleDeleteIgnored)
		})

		r.Route("/multicast", func(r chi.Router) {
			r.Get("/", s.HandleListMulticastGroups)
			r.Post("/", s.HandlePutMulticastGroup)
			r.Route("/{dev_addr}", func(r chi.Router) {
				r.Get("/", s.HandleGetMulticastGroup)
				r.Delete("/", s.HandleDeleteMulticastGroup)
			})
		})
	})
}
