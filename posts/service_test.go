package posts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/user/postboard/access"
	"github.com/user/postboard/apperror"
	"github.com/user/postboard/db"
	"github.com/user/postboard/testutil"
)

type fixture struct {
	db      *db.DB
	svc     PostService
	alice   *access.Caller
	bob     *access.Caller
	root    *access.Caller
	alicePo int64
	bobPo   int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	d := testutil.OpenDB(t)
	aliceID := testutil.InsertUser(t, d, testutil.UserFixture{Email: "alice@example.com", Username: "alice", Password: "secret"})
	bobID := testutil.InsertUser(t, d, testutil.UserFixture{Email: "bob@example.com", Username: "bob", Password: "secret"})
	rootID := testutil.InsertUser(t, d, testutil.UserFixture{Email: "root@example.com", Username: "root", Password: "secret", Superuser: true})

	return &fixture{
		db:      d,
		svc:     NewPostService(d, zaptest.NewLogger(t)),
		alice:   &access.Caller{UserID: aliceID, IsActive: true},
		bob:     &access.Caller{UserID: bobID, IsActive: true},
		root:    &access.Caller{UserID: rootID, IsActive: true, IsStaff: true, IsSuperuser: true},
		alicePo: testutil.InsertPost(t, d, aliceID, "Alice in Wonderland", "down the rabbit hole"),
		bobPo:   testutil.InsertPost(t, d, bobID, "Bob's Burgers", "grill"),
	}
}

func titles(posts []*Post) []string {
	out := make([]string, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.Title)
	}
	return out
}

func TestList_Scope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	list, err := f.svc.List(ctx, f.alice, TitleFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "alice", list[0].User)
	assert.Equal(t, f.alicePo, list[0].ID)

	list, err = f.svc.List(ctx, f.root, TitleFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice in Wonderland", "Bob's Burgers"}, titles(list))

	_, err = f.svc.List(ctx, nil, TitleFilter{})
	assert.True(t, apperror.IsAuthError(err))
}

func TestList_TitleFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, title := range []string{"Go tips", "GOLANG news", "Rust notes", "100% done", "snake_case"} {
		testutil.InsertPost(t, f.db, f.alice.UserID, title, "body")
	}

	all, err := f.svc.List(ctx, f.alice, TitleFilter{})
	require.NoError(t, err)

	like, err := f.svc.List(ctx, f.alice, TitleFilter{Substring: "go"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Go tips", "GOLANG news"}, titles(like))

	unlike, err := f.svc.List(ctx, f.alice, TitleFilter{Substring: "go", Exclude: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice in Wonderland", "Rust notes", "100% done", "snake_case"}, titles(unlike))
	assert.Len(t, all, len(like)+len(unlike), "like and unlike partition the visible posts")

	// Wildcards in the search are literal.
	pct, err := f.svc.List(ctx, f.alice, TitleFilter{Substring: "%"})
	require.NoError(t, err)
	assert.Equal(t, []string{"100% done"}, titles(pct))

	underscore, err := f.svc.List(ctx, f.alice, TitleFilter{Substring: "_"})
	require.NoError(t, err)
	assert.Equal(t, []string{"snake_case"}, titles(underscore))

	// Other users' posts never leak through the filters.
	bobs, err := f.svc.List(ctx, f.alice, TitleFilter{Substring: "burger"})
	require.NoError(t, err)
	assert.Empty(t, bobs)

	rootLike, err := f.svc.List(ctx, f.root, TitleFilter{Substring: "BURGER"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Bob's Burgers"}, titles(rootLike))
}

func TestList_TitleFilterFoldsNonASCII(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.InsertPost(t, f.db, f.alice.UserID, "Ärger im Büro", "body")
	testutil.InsertPost(t, f.db, f.alice.UserID, "ÉCOLE", "body")

	like, err := f.svc.List(ctx, f.alice, TitleFilter{Substring: "ä"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Ärger im Büro"}, titles(like))

	like, err = f.svc.List(ctx, f.alice, TitleFilter{Substring: "BÜRO"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Ärger im Büro"}, titles(like))

	unlike, err := f.svc.List(ctx, f.alice, TitleFilter{Substring: "école", Exclude: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice in Wonderland", "Ärger im Büro"}, titles(unlike))
}

func TestGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	post, err := f.svc.Get(ctx, f.alice, f.alicePo)
	require.NoError(t, err)
	assert.Equal(t, "down the rabbit hole", post.Content)

	_, err = f.svc.Get(ctx, f.alice, f.bobPo)
	assert.True(t, apperror.IsNotFound(err), "non-owners get 404")

	_, err = f.svc.Get(ctx, f.alice, 9999)
	assert.True(t, apperror.IsNotFound(err))

	post, err = f.svc.Get(ctx, f.root, f.bobPo)
	require.NoError(t, err)
	assert.Equal(t, "bob", post.User)
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	post, err := f.svc.Create(ctx, f.bob, CreatePostRequest{Title: "Second", Content: "more"})
	require.NoError(t, err)
	assert.Equal(t, "bob", post.User)
	assert.Equal(t, f.bob.UserID, post.UserID)
	assert.False(t, post.CreatedAt.IsZero())

	_, err = f.svc.Create(ctx, f.root, CreatePostRequest{Title: "Root post", Content: "nope"})
	assert.True(t, apperror.IsForbidden(err))

	_, err = f.svc.Create(ctx, nil, CreatePostRequest{Title: "Anon", Content: "nope"})
	assert.True(t, apperror.IsAuthError(err))
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		req   CreatePostRequest
		field string
	}{
		{"missing title", CreatePostRequest{Content: "x"}, "title"},
		{"blank title", CreatePostRequest{Title: "   ", Content: "x"}, "title"},
		{"long title", CreatePostRequest{Title: "abcdefghijklmnopqrstuvwxyzabcdefghijklmnopqrstuvwxyz", Content: "x"}, "title"},
		{"missing content", CreatePostRequest{Title: "t"}, "content"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, f.alice, tt.req)
			require.Error(t, err)
			appErr, ok := apperror.FromError(err)
			require.True(t, ok)
			assert.Equal(t, 400, appErr.StatusCode())
			assert.NotEmpty(t, appErr.Fields[tt.field])
		})
	}
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	title := "Through the Looking-Glass"

	post, err := f.svc.Update(ctx, f.alice, f.alicePo, UpdatePostRequest{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, title, post.Title)
	assert.Equal(t, "down the rabbit hole", post.Content, "PATCH keeps omitted fields")

	stored, err := f.svc.Get(ctx, f.alice, f.alicePo)
	require.NoError(t, err)
	assert.Equal(t, title, stored.Title)
	assert.False(t, stored.UpdatedAt.Before(stored.CreatedAt))

	_, err = f.svc.Update(ctx, f.bob, f.alicePo, UpdatePostRequest{Title: &title})
	assert.True(t, apperror.IsNotFound(err))

	blank := ""
	_, err = f.svc.Update(ctx, f.alice, f.alicePo, UpdatePostRequest{Content: &blank})
	assert.True(t, apperror.IsValidationError(err))
}

func TestReplace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	post, err := f.svc.Replace(ctx, f.bob, f.bobPo, CreatePostRequest{Title: "Bob's Diner", Content: "fries"})
	require.NoError(t, err)
	assert.Equal(t, "Bob's Diner", post.Title)
	assert.Equal(t, "fries", post.Content)

	_, err = f.svc.Replace(ctx, f.bob, f.bobPo, CreatePostRequest{Title: "Only title"})
	assert.True(t, apperror.IsValidationError(err), "PUT needs every field")

	_, err = f.svc.Replace(ctx, f.alice, f.bobPo, CreatePostRequest{Title: "Mine now", Content: "x"})
	assert.True(t, apperror.IsNotFound(err))
}

func TestSuperuserUpdateKeepsOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	post, err := f.svc.Replace(ctx, f.root, f.bobPo, CreatePostRequest{Title: "Moderated", Content: "edited by staff"})
	require.NoError(t, err)
	assert.Equal(t, "bob", post.User)
	assert.Equal(t, f.bob.UserID, post.UserID)

	list, err := f.svc.List(ctx, f.bob, TitleFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Moderated"}, titles(list))
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.svc.Delete(ctx, f.alice, f.bobPo)
	assert.True(t, apperror.IsNotFound(err))

	require.NoError(t, f.svc.Delete(ctx, f.alice, f.alicePo))
	_, err = f.svc.Get(ctx, f.alice, f.alicePo)
	assert.True(t, apperror.IsNotFound(err))

	require.NoError(t, f.svc.Delete(ctx, f.root, f.bobPo))
	list, err := f.svc.List(ctx, f.root, TitleFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.True(t, apperror.IsAuthError(f.svc.Delete(ctx, nil, f.bobPo)))
}

func TestLikePattern(t *testing.T) {
	assert.Equal(t, `%abc%`, likePattern("ABC"))
	assert.Equal(t, `%50\%\_off\\%`, likePattern(`50%_off\`))
}
