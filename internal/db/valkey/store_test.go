package valkey

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/redis/rueidis"
	"github.com/redis/rueidis/mock"
	"go.uber.org/mock/gomock"

	"github.com/kailas-cloud/protoquery/internal/db"
)

// --- client.go tests ---

func TestPing_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("PING")).
		Return(mock.Result(mock.RedisString("PONG")))

	s := NewStoreForTest(c)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPing_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("PING")).
		Return(mock.ErrorResult(context.DeadlineExceeded))

	s := NewStoreForTest(c)
	err := s.Ping(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestWaitForReady_Timeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("PING")).
		Return(mock.ErrorResult(errors.New("connection refused"))).
		AnyTimes()

	s := NewStoreForTest(c)
	if err := s.WaitForReady(context.Background(), 250*time.Millisecond); err == nil {
		t.Fatal("expected timeout error")
	}
}

// --- kv.go tests ---

func TestGet_Found(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "k")).
		Return(mock.Result(mock.RedisString("v")))

	s := NewStoreForTest(c)
	got, err := s.Get(context.Background(), "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "v" {
		t.Errorf("Get() = %q", got)
	}
}

func TestGet_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "missing")).
		Return(mock.Result(mock.RedisNil()))

	s := NewStoreForTest(c)
	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, db.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestSetWithTTL(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("SET", "k", "v", "EX", "60")).
		Return(mock.Result(mock.RedisString("OK")))

	s := NewStoreForTest(c)
	if err := s.SetWithTTL(context.Background(), "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSet_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("SET", "k", "v")).
		Return(mock.ErrorResult(errors.New("broken pipe")))

	s := NewStoreForTest(c)
	err := s.Set(context.Background(), "k", []byte("v"))
	var dbErr *db.Error
	if !errors.As(err, &dbErr) || dbErr.Op != db.OpSet {
		t.Fatalf("expected db.Error with op SET, got %v", err)
	}
}

// --- search.go tests ---

func TestSearchKNN_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	var captured []string
	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			captured = cmd
			return cmd[0] == "FT.SEARCH"
		})).
		Return(mock.Result(mock.RedisArray(
			mock.RedisInt64(2),
			mock.RedisString("protoquery:snippet:s1"),
			mock.RedisArray(
				mock.RedisString("__embedding_score"),
				mock.RedisString("0.09"),
				mock.RedisString("content"),
				mock.RedisString("Give aspirin 324 mg"),
				mock.RedisString("source"),
				mock.RedisString("acls"),
			),
			mock.RedisString("protoquery:snippet:s2"),
			mock.RedisArray(
				mock.RedisString("__embedding_score"),
				mock.RedisString("0.16"),
				mock.RedisString("source"),
				mock.RedisString("local-ems"),
			),
		)))

	s := NewStoreForTest(c)
	result, err := s.SearchKNN(context.Background(), &db.KNNQuery{
		IndexName:    "snippets",
		Vector:       []float32{0.1, 0.2},
		K:            6,
		Tags:         []db.TagFilter{{Field: "source", Values: []string{"acls", "local-ems"}}},
		ReturnFields: []string{"content", "source"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Total != 2 || len(result.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %+v", result)
	}
	// cosine distance 0.09 maps to similarity 0.91
	if got := result.Entries[0].Score; got < 0.909 || got > 0.911 {
		t.Errorf("expected score ~0.91, got %f", got)
	}
	if _, ok := result.Entries[0].Fields["__embedding_score"]; ok {
		t.Error("score field must be stripped")
	}
	if result.Entries[1].Fields["source"] != "local-ems" {
		t.Errorf("unexpected fields: %v", result.Entries[1].Fields)
	}

	wantQuery := `(@source:{acls | local\-ems})=>[KNN 6 @embedding $BLOB]`
	if len(captured) < 3 || captured[1] != "snippets" || captured[2] != wantQuery {
		t.Errorf("unexpected command: %v", captured)
	}
}

func TestSearchKNN_Empty(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool { return cmd[0] == "FT.SEARCH" })).
		Return(mock.Result(mock.RedisArray(mock.RedisInt64(0))))

	s := NewStoreForTest(c)
	result, err := s.SearchKNN(context.Background(), &db.KNNQuery{
		IndexName: "snippets", Vector: []float32{1}, K: 1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Entries) != 0 {
		t.Errorf("expected no entries, got %d", len(result.Entries))
	}
}

func TestSearchKNN_Validation(t *testing.T) {
	s := &Store{}
	ctx := context.Background()

	_, err := s.SearchKNN(ctx, &db.KNNQuery{Vector: []float32{0.1}, K: 10})
	if err == nil {
		t.Error("expected error for empty index name")
	}

	_, err = s.SearchKNN(ctx, &db.KNNQuery{IndexName: "idx", K: 10})
	if err == nil {
		t.Error("expected error for empty vector")
	}

	_, err = s.SearchKNN(ctx, &db.KNNQuery{IndexName: "idx", Vector: []float32{0.1}, K: 0})
	if err == nil {
		t.Error("expected error for k=0")
	}
}

func TestSearchKNN_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		reply    rueidis.RedisResult
		rejected bool
		notFound bool
	}{
		{"unknown index", mock.Result(mock.RedisError("Unknown Index name")), false, true},
		{
			"dimension mismatch",
			mock.Result(mock.RedisError("Error parsing vector similarity query: query vector blob size (8) does not match index's expected size (6144).")),
			true, false,
		},
		{"network", mock.ErrorResult(errors.New("dial tcp: connection refused")), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			c := mock.NewClient(ctrl)

			c.EXPECT().
				Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool { return cmd[0] == "FT.SEARCH" })).
				Return(tt.reply)

			s := NewStoreForTest(c)
			_, err := s.SearchKNN(context.Background(), &db.KNNQuery{IndexName: "snippets", Vector: []float32{1, 2}, K: 1})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, db.ErrQueryRejected); got != tt.rejected {
				t.Errorf("ErrQueryRejected = %v, want %v (%v)", got, tt.rejected, err)
			}
			if got := errors.Is(err, db.ErrIndexNotFound); got != tt.notFound {
				t.Errorf("ErrIndexNotFound = %v, want %v (%v)", got, tt.notFound, err)
			}
		})
	}
}

func TestBuildKNNQuery(t *testing.T) {
	got := buildKNNQuery(nil, "embedding", 3)
	if got != "*=>[KNN 3 @embedding $BLOB]" {
		t.Errorf("no filter: %q", got)
	}

	got = buildKNNQuery([]db.TagFilter{{Field: "source", Values: []string{"a b", "c|d"}}}, "vec", 2)
	if !strings.HasPrefix(got, `(@source:{a\ b | c\|d})`) {
		t.Errorf("escaped filter: %q", got)
	}

	got = buildKNNQuery([]db.TagFilter{{Field: "source"}}, "embedding", 1)
	if got != "*=>[KNN 1 @embedding $BLOB]" {
		t.Errorf("empty values must be ignored: %q", got)
	}
}

func TestVectorToBytes(t *testing.T) {
	got := vectorToBytes([]float32{1, -2})
	if len(got) != 8 {
		t.Fatalf("expected 8 bytes, got %d", len(got))
	}
	// 1.0 = 0x3f800000 little-endian
	if got[:4] != "\x00\x00\x80\x3f" {
		t.Errorf("unexpected encoding: %x", got[:4])
	}
}
