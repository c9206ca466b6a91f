// Post rows and the request bodies of the post endpoints.

package posts

import "time"

// Post is a post row joined with its owner's username.
// @Description A blog post
type Post struct {
	ID        int64     `db:"id" json:"id" example:"1"`
	UserID    int64     `db:"user_id" json:"-"`
	User      string    `db:"username" json:"user" example:"johndoe"`
	Title     string    `db:"title" json:"title" example:"Hello world"`
	Content   string    `db:"content" json:"content" example:"My first post."`
	CreatedAt time.Time `db:"created_at" json:"created_at" example:"2023-01-15T10:30:00Z"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at" example:"2023-01-15T10:30:00Z"`
}

// postColumns selects a Post from `posts p JOIN users u`.
const postColumns = `p.id, p.user_id, u.username, p.title, p.content, p.created_at, p.updated_at`

// CreatePostRequest is the body of POST /api/posts/ and of PUT /api/posts/{id}/.
type CreatePostRequest struct {
	Title   string `json:"title" validate:"required,max=50" example:"Hello world"`
	Content string `json:"content" validate:"required" example:"My first post."`
}

// UpdatePostRequest is the body of PATCH /api/posts/{id}/. Nil fields are left unchanged.
type UpdatePostRequest struct {
	Title   *string `json:"title,omitempty" validate:"omitempty,max=50" example:"Hello again"`
	Content *string `json:"content,omitempty" example:"Edited."`
}

// TitleFilter narrows a listing to titles containing (or, with Exclude, not containing)
// Substring, case-insensitively. The zero value matches everything.
type TitleFilter struct {
	Substring string
	Exclude   bool
}
