// Business logic for post operations. Every query is narrowed by the caller's access scope,
// so rows a caller may not see behave as if they did not exist.

package posts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/user/postboard/access"
	"github.com/user/postboard/apperror"
	"github.com/user/postboard/db"
)

// PostService defines the post operations available to the HTTP layer.
type PostService interface {
	List(ctx context.Context, caller *access.Caller, filter TitleFilter) ([]*Post, error)
	Get(ctx context.Context, caller *access.Caller, id int64) (*Post, error)
	Create(ctx context.Context, caller *access.Caller, req CreatePostRequest) (*Post, error)
	Replace(ctx context.Context, caller *access.Caller, id int64, req CreatePostRequest) (*Post, error)
	Update(ctx context.Context, caller *access.Caller, id int64, req UpdatePostRequest) (*Post, error)
	Delete(ctx context.Context, caller *access.Caller, id int64) error
}

type postServiceImpl struct {
	db     *db.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewPostService creates a new PostService.
func NewPostService(database *db.DB, logger *zap.Logger) PostService {
	return &postServiceImpl{db: database, logger: logger, now: time.Now}
}

func notFound(id int64) error {
	return apperror.NewNotFoundError(fmt.Sprintf("post with ID %d not found", id), nil)
}

// scopeClause appends the owner restriction of scope, if any, to where/args.
func scopeClause(scope access.Scope, column string, where []string, args []interface{}) ([]string, []interface{}) {
	if scope.All {
		return where, args
	}
	return append(where, column+" = ?"), append(args, scope.OwnerID)
}

// likePattern builds a LIKE pattern matching s anywhere, with wildcards in s taken literally.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(s)) + "%"
}

// List returns the posts visible to caller, oldest first.
func (s *postServiceImpl) List(ctx context.Context, caller *access.Caller, filter TitleFilter) ([]*Post, error) {
	if err := access.Authorize(caller, access.Read); err != nil {
		return nil, err
	}

	where, args := scopeClause(access.ScopeFor(caller), "p.user_id", nil, nil)
	if filter.Substring != "" {
		cond := s.db.Lower("p.title") + ` LIKE ? ESCAPE '\'`
		if filter.Exclude {
			cond = "NOT (" + cond + ")"
		}
		where = append(where, cond)
		args = append(args, likePattern(filter.Substring))
	}

	query := `SELECT ` + postColumns + ` FROM posts p JOIN users u ON u.id = p.user_id`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY p.id`

	var rows []*Post
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, apperror.NewDatabaseError("failed to list posts", err)
	}
	if rows == nil {
		rows = []*Post{}
	}
	return rows, nil
}

// Get returns one post, or NotFound when it does not exist or lies outside caller's scope.
func (s *postServiceImpl) Get(ctx context.Context, caller *access.Caller, id int64) (*Post, error) {
	if err := access.Authorize(caller, access.Read); err != nil {
		return nil, err
	}
	return s.getInScope(ctx, s.db, access.ScopeFor(caller), id)
}

func (s *postServiceImpl) getInScope(ctx context.Context, q sqlx.ExtContext, scope access.Scope, id int64) (*Post, error) {
	where, args := scopeClause(scope, "p.user_id", []string{"p.id = ?"}, []interface{}{id})
	query := `SELECT ` + postColumns + ` FROM posts p JOIN users u ON u.id = p.user_id WHERE ` + strings.Join(where, " AND ")

	var post Post
	if err := sqlx.GetContext(ctx, q, &post, q.Rebind(query), args...); err != nil {
		if db.IsNoRows(err) {
			return nil, notFound(id)
		}
		return nil, apperror.NewDatabaseError("failed to get post", err)
	}
	return &post, nil
}

// Create stores a post owned by caller. Superusers are refused.
func (s *postServiceImpl) Create(ctx context.Context, caller *access.Caller, req CreatePostRequest) (*Post, error) {
	if err := access.Authorize(caller, access.Create); err != nil {
		return nil, err
	}
	if appErr := validatePost(req); appErr != nil {
		return nil, appErr
	}

	now := s.timestamp()
	var id int64
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(`
		INSERT INTO posts (user_id, title, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`),
		caller.UserID, req.Title, req.Content, now, now,
	).Scan(&id)
	if err != nil {
		return nil, apperror.NewDatabaseError("failed to create post", err)
	}

	s.logger.Info("post created", zap.Int64("post_id", id), zap.Int64("user_id", caller.UserID))
	return s.getInScope(ctx, s.db, access.Scope{All: true}, id)
}

// Replace overwrites title and content (PUT).
func (s *postServiceImpl) Replace(ctx context.Context, caller *access.Caller, id int64, req CreatePostRequest) (*Post, error) {
	if err := access.Authorize(caller, access.Update); err != nil {
		return nil, err
	}
	if appErr := validatePost(req); appErr != nil {
		return nil, appErr
	}
	return s.Update(ctx, caller, id, UpdatePostRequest{Title: &req.Title, Content: &req.Content})
}

// Update applies the non-nil fields of req (PATCH). The owner never changes, even when a
// superuser edits someone else's post.
func (s *postServiceImpl) Update(ctx context.Context, caller *access.Caller, id int64, req UpdatePostRequest) (post *Post, err error) {
	if err := access.Authorize(caller, access.Update); err != nil {
		return nil, err
	}
	if appErr := validatePatch(req); appErr != nil {
		return nil, appErr
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, apperror.NewDatabaseError("failed to begin transaction", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			_ = tx.Rollback()
		} else if cerr := tx.Commit(); cerr != nil {
			post, err = nil, apperror.NewDatabaseError("failed to commit post update", cerr)
		}
	}()

	post, err = s.getInScope(ctx, tx, access.ScopeFor(caller), id)
	if err != nil {
		return nil, err
	}
	if !access.Allowed(caller, post.UserID).Has(access.Update) {
		return nil, notFound(id)
	}

	if req.Title != nil {
		post.Title = *req.Title
	}
	if req.Content != nil {
		post.Content = *req.Content
	}
	post.UpdatedAt = s.timestamp()

	_, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE posts SET title = ?, content = ?, updated_at = ? WHERE id = ?`),
		post.Title, post.Content, post.UpdatedAt, post.ID)
	if err != nil {
		return nil, apperror.NewDatabaseError("failed to update post", err)
	}
	return post, nil
}

// Delete removes a post in caller's scope.
func (s *postServiceImpl) Delete(ctx context.Context, caller *access.Caller, id int64) error {
	if err := access.Authorize(caller, access.Delete); err != nil {
		return err
	}

	where, args := scopeClause(access.ScopeFor(caller), "user_id", []string{"id = ?"}, []interface{}{id})
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM posts WHERE `+strings.Join(where, " AND ")), args...)
	if err != nil {
		return apperror.NewDatabaseError("failed to delete post", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperror.NewDatabaseError("failed to delete post", err)
	}
	if n == 0 {
		return notFound(id)
	}

	s.logger.Info("post deleted", zap.Int64("post_id", id), zap.Int64("by_user_id", caller.UserID))
	return nil
}

func (s *postServiceImpl) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func validatePost(req CreatePostRequest) *apperror.AppError {
	if appErr := apperror.Validate(req); appErr != nil {
		return appErr
	}
	if strings.TrimSpace(req.Title) == "" {
		return apperror.NewFieldError("title", "This field may not be blank.")
	}
	if strings.TrimSpace(req.Content) == "" {
		return apperror.NewFieldError("content", "This field may not be blank.")
	}
	return nil
}

func validatePatch(req UpdatePostRequest) *apperror.AppError {
	if appErr := apperror.Validate(req); appErr != nil {
		return appErr
	}
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		return apperror.NewFieldError("title", "This field may not be blank.")
	}
	if req.Content != nil && strings.TrimSpace(*req.Content) == "" {
		return apperror.NewFieldError("content", "This field may not be blank.")
	}
	return nil
}
