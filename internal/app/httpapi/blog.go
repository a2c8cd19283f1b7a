package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	blogsvc "github.com/tipsterhub/service_layer/internal/app/services/blog"
	svcerrors "github.com/tipsterhub/service_layer/internal/errors"
	"github.com/tipsterhub/service_layer/internal/httputil"
)

func (h *handler) listPublishedPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := h.app.Blog.List(r.Context(), true)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, posts)
}

func (h *handler) getPublishedPost(w http.ResponseWriter, r *http.Request) {
	post, err := h.app.Blog.GetBySlug(r.Context(), mux.Vars(r)["slug"], false)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, post)
}

func (h *handler) listPosts(w http.ResponseWriter, r *http.Request) {
	published, err := boolQuery(r, "published")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	posts, err := h.app.Blog.List(r.Context(), published)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, posts)
}

func (h *handler) createPost(w http.ResponseWriter, r *http.Request) {
	var payload blogsvc.PostInput
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	post, err := h.app.Blog.Create(r.Context(), payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, post)
}

func (h *handler) getPost(w http.ResponseWriter, r *http.Request) {
	post, err := h.app.Blog.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, post)
}

func (h *handler) updatePost(w http.ResponseWriter, r *http.Request) {
	var payload blogsvc.PostInput
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	post, err := h.app.Blog.Update(r.Context(), mux.Vars(r)["id"], payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, post)
}

func (h *handler) publishPost(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Published *bool `json:"published"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	if payload.Published == nil {
		h.writeError(w, r, svcerrors.Validation("published", "published is required"))
		return
	}
	post, err := h.app.Blog.Publish(r.Context(), mux.Vars(r)["id"], *payload.Published)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, post)
}

func (h *handler) deletePost(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Blog.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
