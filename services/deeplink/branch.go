// Package deeplink creates Branch.io deep links for shared courses.
package deeplink

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"

	"github.com/trezcool/atelier/core"
	"github.com/trezcool/atelier/core/course"
)

const linkEndpoint = "/v1/url"

type BranchLinker struct {
	key     string
	baseURL string
	webURL  string
}

var _ course.DeepLinker = (*BranchLinker)(nil)

// NewBranchLinker returns nil when no Branch key is configured: sharing is then unavailable.
func NewBranchLinker(conf *core.Config) *BranchLinker {
	if conf.Branch.Key == "" {
		return nil
	}
	return &BranchLinker{
		key:     conf.Branch.Key,
		baseURL: strings.TrimSuffix(conf.Branch.BaseURL, "/"),
		webURL:  strings.TrimSuffix(conf.FrontendBaseURL, "/"),
	}
}

type linkRequest struct {
	BranchKey string                 `json:"branch_key"`
	Channel   string                 `json:"channel"`
	Feature   string                 `json:"feature"`
	Data      map[string]interface{} `json:"data"`
}

func (l *BranchLinker) CreateLink(ctx context.Context, data course.LinkData) (string, error) {
	fields := map[string]interface{}{
		"$canonical_identifier": "course/" + data.CourseID,
		"$og_title":             data.Title,
		"$og_description":       data.Description,
		"$desktop_url":          l.webURL + "/courses/" + data.CourseID,
		"course_id":             data.CourseID,
	}
	if data.ImageURL != "" {
		fields["$og_image_url"] = l.webURL + "/" + strings.TrimPrefix(data.ImageURL, "/")
	}
	body, err := json.Marshal(linkRequest{BranchKey: l.key, Channel: "app", Feature: "share", Data: fields})
	if err != nil {
		return "", errors.Wrap(err, "encoding branch link request")
	}

	req, err := rest.BuildRequestObject(rest.Request{
		Method:  rest.Post,
		BaseURL: l.baseURL + linkEndpoint,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
	})
	if err != nil {
		return "", errors.Wrap(err, "building branch link request")
	}
	httpRes, err := rest.MakeRequest(req.WithContext(ctx))
	if err != nil {
		return "", errors.Wrap(err, "creating branch link")
	}
	res, err := rest.BuildResponse(httpRes)
	if err != nil {
		return "", errors.Wrap(err, "reading branch link response")
	}
	if res.StatusCode >= http.StatusBadRequest {
		return "", errors.Errorf("creating branch link - status: %d - body: %s", res.StatusCode, res.Body)
	}

	var out struct {
		URL string `json:"url"`
	}
	if err = json.Unmarshal([]byte(res.Body), &out); err != nil {
		return "", errors.Wrap(err, "decoding branch link response")
	}
	if out.URL == "" {
		return "", errors.New("branch returned an empty link")
	}
	return out.URL, nil
}
