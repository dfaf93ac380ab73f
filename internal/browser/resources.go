package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockResources fails requests whose type is listed in kinds.
func blockResources(page *rod.Page, kinds []string) {
	blocked := make(map[proto.NetworkResourceType]bool, len(kinds))
	for _, k := range kinds {
		if rt, ok := resourceType(k); ok {
			blocked[rt] = true
		}
	}
	if len(blocked) == 0 {
		return
	}

	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if blocked[h.Request.Type()] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
}

// resourceType maps a config name to a CDP resource type. Stylesheets and
// documents are not blockable.
func resourceType(kind string) (proto.NetworkResourceType, bool) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "image", "images":
		return proto.NetworkResourceTypeImage, true
	case "font", "fonts":
		return proto.NetworkResourceTypeFont, true
	case "media":
		return proto.NetworkResourceTypeMedia, true
	}
	return "", false
}
