// Package feed exports an owner's saved posts as an RSS feed.
package feed

import (
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gorilla/feeds"

	"perch/internal/render"
)

const titleLimit = 80

// Build renders views as RSS 2.0. Posts that are still loading or failed
// get a placeholder title linking to the post.
func Build(owner int64, baseURL string, views []render.LinkView, now time.Time) (string, error) {
	f := &feeds.Feed{
		Title:       "perch saved posts",
		Description: fmt.Sprintf("Posts saved by owner %d", owner),
		Link:        &feeds.Link{Href: strings.TrimRight(baseURL, "/") + fmt.Sprintf("/feed/%d", owner), Rel: "self"},
		Id:          fmt.Sprintf("tag:perch,2024:owner:%d", owner),
		Created:     now,
		Updated:     now,
	}

	for _, v := range views {
		item := &feeds.Item{
			Title:   "Post " + v.Link.PostID,
			Link:    &feeds.Link{Href: v.Link.URL, Rel: "alternate", Type: "text/html"},
			Id:      v.Link.URL,
			Created: v.Link.SavedAt,
		}
		if v.Post != nil && !v.Post.Failed() {
			item.Title = title(v.Post.Author.Handle, v.Post.Text)
			item.Author = &feeds.Author{Name: v.Post.Author.Name}
			item.Description = description(v)
			if !v.Post.CreatedAt.IsZero() {
				item.Created = v.Post.CreatedAt
			}
		}
		f.Items = append(f.Items, item)
	}

	return f.ToRss()
}

func title(handle, text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) > titleLimit {
		text = string([]rune(text)[:titleLimit]) + "…"
	}
	if handle == "" {
		return text
	}
	return "@" + handle + ": " + text
}

func description(v render.LinkView) string {
	var b strings.Builder
	b.WriteString("<p>")
	b.WriteString(strings.ReplaceAll(html.EscapeString(v.Post.Text), "\n", "<br>"))
	b.WriteString("</p>")
	for _, m := range v.Media {
		if m.URL == "" {
			continue
		}
		if m.Kind.Playable() && !m.Overlay {
			fmt.Fprintf(&b, `<p><video src="%s" controls></video></p>`, html.EscapeString(m.URL))
			continue
		}
		fmt.Fprintf(&b, `<p><img src="%s"></p>`, html.EscapeString(m.URL))
	}
	return b.String()
}
