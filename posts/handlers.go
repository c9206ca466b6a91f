// Package posts is responsible for blog posts: owner-scoped CRUD, the superuser override and
// the like/unlike title searches.
package posts

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/user/postboard/apperror"
	"github.com/user/postboard/auth"
)

// PostHandler handles HTTP requests for posts.
type PostHandler struct {
	service PostService
}

// NewPostHandler creates a new PostHandler.
func NewPostHandler(service PostService) *PostHandler {
	return &PostHandler{service: service}
}

// RegisterRoutes registers the post routes on a router mounted at /api/posts.
// Every route requires an authenticated caller.
func (h *PostHandler) RegisterRoutes(router chi.Router) {
	router.Get("/", h.listPosts)
	router.Post("/", h.createPost)

	// The title routes accept POST as well; it creates a post exactly like the collection route.
	router.Get("/like/{title}", h.listPostsLike)
	router.Post("/like/{title}", h.createPost)
	router.Get("/unlike/{title}", h.listPostsUnlike)
	router.Post("/unlike/{title}", h.createPost)

	router.Get("/{id}", h.getPost)
	router.Put("/{id}", h.replacePost)
	router.Patch("/{id}", h.updatePost)
	router.Delete("/{id}", h.deletePost)
}

// listPosts godoc
// @Summary List posts
// @Description Regular users see their own posts; superusers see every post.
// @Tags posts
// @Produce json
// @Security BearerAuth
// @Success 200 {array} Post
// @Failure 401 {object} apperror.ErrorResponse
// @Router /api/posts/ [get]
func (h *PostHandler) listPosts(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, TitleFilter{})
}

// listPostsLike godoc
// @Summary List posts whose title contains a substring
// @Description Case-insensitive. Scoped like the plain listing.
// @Tags posts
// @Produce json
// @Security BearerAuth
// @Param title path string true "Substring to look for"
// @Success 200 {array} Post
// @Failure 401 {object} apperror.ErrorResponse
// @Router /api/posts/like/{title}/ [get]
func (h *PostHandler) listPostsLike(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, TitleFilter{Substring: titleParam(r)})
}

// listPostsUnlike godoc
// @Summary List posts whose title does not contain a substring
// @Description The complement of the like listing within the caller's scope.
// @Tags posts
// @Produce json
// @Security BearerAuth
// @Param title path string true "Substring to exclude"
// @Success 200 {array} Post
// @Failure 401 {object} apperror.ErrorResponse
// @Router /api/posts/unlike/{title}/ [get]
func (h *PostHandler) listPostsUnlike(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, TitleFilter{Substring: titleParam(r), Exclude: true})
}

func (h *PostHandler) list(w http.ResponseWriter, r *http.Request, filter TitleFilter) {
	list, err := h.service.List(r.Context(), auth.CallerFromContext(r.Context()), filter)
	if err != nil {
		apperror.Write(w, err)
		return
	}
	apperror.WriteJSON(w, http.StatusOK, list)
}

// createPost godoc
// @Summary Create a post
// @Description The caller becomes the owner. Superusers cannot create posts.
// @Tags posts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param post body CreatePostRequest true "New post"
// @Success 201 {object} Post
// @Failure 400 {object} apperror.ErrorResponse
// @Failure 401 {object} apperror.ErrorResponse
// @Failure 403 {object} apperror.ErrorResponse "Caller is a superuser"
// @Router /api/posts/ [post]
func (h *PostHandler) createPost(w http.ResponseWriter, r *http.Request) {
	var req CreatePostRequest
	if !decode(w, r, &req) {
		return
	}
	post, err := h.service.Create(r.Context(), auth.CallerFromContext(r.Context()), req)
	if err != nil {
		apperror.Write(w, err)
		return
	}
	apperror.WriteJSON(w, http.StatusCreated, post)
}

// getPost godoc
// @Summary Get a post
// @Tags posts
// @Produce json
// @Security BearerAuth
// @Param id path int true "Post ID"
// @Success 200 {object} Post
// @Failure 401 {object} apperror.ErrorResponse
// @Failure 404 {object} apperror.ErrorResponse "Missing or not owned by the caller"
// @Router /api/posts/{id}/ [get]
func (h *PostHandler) getPost(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	post, err := h.service.Get(r.Context(), auth.CallerFromContext(r.Context()), id)
	if err != nil {
		apperror.Write(w, err)
		return
	}
	apperror.WriteJSON(w, http.StatusOK, post)
}

// replacePost godoc
// @Summary Replace a post
// @Tags posts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Post ID"
// @Param post body CreatePostRequest true "Title and content"
// @Success 200 {object} Post
// @Failure 400 {object} apperror.ErrorResponse
// @Failure 401 {object} apperror.ErrorResponse
// @Failure 404 {object} apperror.ErrorResponse
// @Router /api/posts/{id}/ [put]
func (h *PostHandler) replacePost(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req CreatePostRequest
	if !decode(w, r, &req) {
		return
	}
	post, err := h.service.Replace(r.Context(), auth.CallerFromContext(r.Context()), id, req)
	if err != nil {
		apperror.Write(w, err)
		return
	}
	apperror.WriteJSON(w, http.StatusOK, post)
}

// updatePost godoc
// @Summary Partially update a post
// @Tags posts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Post ID"
// @Param post body UpdatePostRequest true "Fields to change"
// @Success 200 {object} Post
// @Failure 400 {object} apperror.ErrorResponse
// @Failure 401 {object} apperror.ErrorResponse
// @Failure 404 {object} apperror.ErrorResponse
// @Router /api/posts/{id}/ [patch]
func (h *PostHandler) updatePost(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req UpdatePostRequest
	if !decode(w, r, &req) {
		return
	}
	post, err := h.service.Update(r.Context(), auth.CallerFromContext(r.Context()), id, req)
	if err != nil {
		apperror.Write(w, err)
		return
	}
	apperror.WriteJSON(w, http.StatusOK, post)
}

// deletePost godoc
// @Summary Delete a post
// @Tags posts
// @Security BearerAuth
// @Param id path int true "Post ID"
// @Success 204
// @Failure 401 {object} apperror.ErrorResponse
// @Failure 404 {object} apperror.ErrorResponse
// @Router /api/posts/{id}/ [delete]
func (h *PostHandler) deletePost(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), auth.CallerFromContext(r.Context()), id); err != nil {
		apperror.Write(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		apperror.Write(w, apperror.NewBadRequestError("invalid request body", err))
		return false
	}
	return true
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		apperror.Write(w, apperror.NewBadRequestError("invalid post ID", err))
		return 0, false
	}
	return id, true
}

// titleParam returns the decoded {title} segment. chi matches on the raw path when the
// request carries one, leaving escapes in place.
func titleParam(r *http.Request) string {
	title := chi.URLParam(r, "title")
	if r.URL.RawPath == "" {
		return title
	}
	if decoded, err := url.PathUnescape(title); err == nil {
		return decoded
	}
	return title
}
