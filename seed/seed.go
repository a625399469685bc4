// Package seed provides canned comments used when the remote store has no
// comments for a post yet.
package seed

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/golang/glog"
	"gopkg.in/yaml.v3"
	"masterboxer.com/engagement-sync/models"
)

//go:embed seed.yaml
var defaultSeed []byte

type Provider interface {
	// Comments returns the seed comments for postID, or nil.
	Comments(postID string) []models.Comment
}

type seedComment struct {
	ID             string    `yaml:"id"`
	UserID         string    `yaml:"userId"`
	AuthorName     string    `yaml:"authorName"`
	AuthorPhotoURL string    `yaml:"authorPhotoUrl"`
	Content        string    `yaml:"content"`
	LikesCount     int       `yaml:"likesCount"`
	LikedByUserIDs []string  `yaml:"likedByUserIds"`
	CreatedAt      time.Time `yaml:"createdAt"`
}

type seedFile struct {
	Posts map[string][]seedComment `yaml:"posts"`
}

// Static is a read-only Provider backed by a map.
type Static struct {
	posts map[string][]models.Comment
}

func NewStatic(posts map[string][]models.Comment) *Static {
	s := &Static{posts: map[string][]models.Comment{}}
	for postID, comments := range posts {
		for _, c := range comments {
			c.PostID = postID
			c.Provenance = models.ProvenanceEphemeral
			s.posts[postID] = append(s.posts[postID], c.Clone())
		}
	}
	return s
}

func (s *Static) Comments(postID string) []models.Comment {
	comments := s.posts[postID]
	if len(comments) == 0 {
		return nil
	}
	out := make([]models.Comment, len(comments))
	for i, c := range comments {
		out[i] = c.Clone()
	}
	return out
}

// PostIDs lists the posts that have seed content, sorted.
func (s *Static) PostIDs() []string {
	ids := make([]string, 0, len(s.posts))
	for id := range s.posts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Load reads a YAML seed file.
func Load(path string) (*Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Default returns the seed content compiled into the binary.
func Default() *Static {
	s, err := Parse(defaultSeed)
	if err != nil {
		panic(fmt.Sprintf("embedded seed.yaml: %v", err))
	}
	return s
}

func Parse(raw []byte) (*Static, error) {
	var file seedFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}

	posts := map[string][]models.Comment{}
	for postID, entries := range file.Posts {
		for i, e := range entries {
			if e.ID == "" {
				return nil, fmt.Errorf("seed post %s entry %d: missing id", postID, i)
			}
			if models.ClassifyAuthor(e.UserID) != models.ProvenanceEphemeral {
				glog.Warningf("[Seed] post=%s comment=%s author %q lacks the %q prefix", postID, e.ID, e.UserID, models.SeedAuthorPrefix)
			}
			posts[postID] = append(posts[postID], models.Comment{
				ID:             e.ID,
				PostID:         postID,
				UserID:         e.UserID,
				AuthorName:     e.AuthorName,
				AuthorPhotoURL: e.AuthorPhotoURL,
				Content:        e.Content,
				LikesCount:     e.LikesCount,
				LikedByUserIDs: e.LikedByUserIDs,
				CreatedAt:      e.CreatedAt,
			})
		}
	}
	return NewStatic(posts), nil
}
