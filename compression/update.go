package compression

import (
	"errors"

	"github.com/unkn0wn-root/sbcache"
)

// DecodeListUpdate validates resp against list and decodes it. A full update
// yields nil Deletions; a partial update yields a non-nil slice.
func DecodeListUpdate(list sbcache.List, resp ListUpdateResponse) (sbcache.ListUpdate, error) {
	if resp.ThreatType != string(list) {
		return sbcache.ListUpdate{}, malformed("threat type %q answers list %q", resp.ThreatType, string(list))
	}
	if resp.ThreatEntryType != URLEntryType {
		return sbcache.ListUpdate{}, malformed("threat entry type %q", resp.ThreatEntryType)
	}
	if resp.NewClientState == "" {
		return sbcache.ListUpdate{}, malformed("missing new client state")
	}

	u := sbcache.ListUpdate{
		Version:   sbcache.Version(resp.NewClientState),
		Additions: make(sbcache.PrefixSet),
	}
	switch resp.ResponseType {
	case FullUpdate:
		if len(resp.Removals) > 0 {
			return sbcache.ListUpdate{}, malformed("full update carries removals")
		}
	case PartialUpdate:
		u.Deletions = []int{}
	default:
		return sbcache.ListUpdate{}, malformed("response type %q", resp.ResponseType)
	}

	for _, set := range resp.Additions {
		c, err := For(set.CompressionType)
		if err != nil {
			return sbcache.ListUpdate{}, err
		}
		adds, err := c.DecodeAdditions(set)
		if err != nil {
			return sbcache.ListUpdate{}, err
		}
		for p := range adds {
			u.Additions[p] = struct{}{}
		}
	}

	switch len(resp.Removals) {
	case 0:
	case 1:
		c, err := For(resp.Removals[0].CompressionType)
		if err != nil {
			return sbcache.ListUpdate{}, err
		}
		del, err := c.DecodeDeletions(resp.Removals[0])
		if err != nil {
			return sbcache.ListUpdate{}, err
		}
		u.Deletions = del
	default:
		return sbcache.ListUpdate{}, malformed("%d removal sets", len(resp.Removals))
	}
	return u, nil
}

// DecodeListUpdates decodes the responses of many lists. A list whose
// response is missing or malformed is left out of the result and reported in
// the joined error as a *ListError; the other lists are still returned.
func DecodeListUpdates(lists []sbcache.List, resps []ListUpdateResponse) (map[sbcache.List]sbcache.ListUpdate, error) {
	byType := make(map[string]ListUpdateResponse, len(resps))
	for _, r := range resps {
		byType[r.ThreatType] = r
	}

	out := make(map[sbcache.List]sbcache.ListUpdate, len(lists))
	var errs []error
	for _, l := range lists {
		r, ok := byType[string(l)]
		if !ok {
			errs = append(errs, &ListError{List: l, Err: malformed("no response")})
			continue
		}
		u, err := DecodeListUpdate(l, r)
		if err != nil {
			errs = append(errs, &ListError{List: l, Err: err})
			continue
		}
		out[l] = u
	}
	return out, errors.Join(errs...)
}
