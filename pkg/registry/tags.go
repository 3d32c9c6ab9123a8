package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nicholas-fedor/imagemeta/pkg/registry/manifest"
	"github.com/nicholas-fedor/imagemeta/pkg/types"
)

// tagsPageSize is the page size requested from the tags-list endpoint.
const tagsPageSize = 50

// nextLinkRegex extracts the target of an RFC5988 Link header part carrying
// the "next" relation.
var nextLinkRegex = regexp.MustCompile(`<([^>]*)>\s*;[^,]*rel="?next"?`)

// tagsPage is one response of the paginated tags-list endpoint.
type tagsPage struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

// fetchTags walks the paginated tags-list endpoint to completion, following
// the "next" link while full pages keep coming back, and materializes the
// combined tag list in listing order.
func (i *Image) fetchTags(ctx context.Context) ([]string, error) {
	pageURL := manifest.BuildTagsURL(i.ref, tagsPageSize)

	var allTags []string

	for {
		entry, err := i.request(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return nil, err
		}

		page := tagsPage{}
		if err := json.Unmarshal(entry.Body, &page); err != nil {
			return nil, fmt.Errorf("failed to decode tags list: %w", err)
		}

		allTags = append(allTags, page.Tags...)

		// A short page is the last one.
		if len(page.Tags) < tagsPageSize {
			break
		}

		next := nextLink(entry.Header.Get(types.LinkHeader))
		if next == "" {
			break
		}

		pageURL = i.resolveLink(next)
	}

	logrus.WithFields(logrus.Fields{
		"image": i.ref.Name(),
		"tags":  len(allTags),
	}).Debug("Listed repository tags")

	return allTags, nil
}

// nextLink extracts the "next" relation target from a Link header value, or
// returns the empty string when none is present.
func nextLink(header string) string {
	if header == "" {
		return ""
	}

	if match := nextLinkRegex.FindStringSubmatch(header); match != nil {
		return match[1]
	}

	return ""
}

// resolveLink resolves a pagination link against the registry API base when
// the registry returned a relative one.
func (i *Image) resolveLink(link string) string {
	if strings.Contains(link, "://") {
		return link
	}

	base := i.ref.APIBase()
	if !strings.HasPrefix(link, "/") {
		return base + "/" + link
	}

	return base + link
}
