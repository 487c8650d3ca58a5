package extract

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ludostock-crawler/internal/catalog"
)

const reviewsHTML = `<html><body><ul>
<li class="_rads_wdmzw_9">
  <button class="_avatarContainer_sgf14_2" data-nickname="bob42"><img class="_image_sgf14_42" alt="Avatar de : Bob"></button>
  <div class="style_gameTitle__RFwyp"><a href="/jeux/catan">Catanopen_in_new</a></div>
  <span class="style_dateBox__cDUMX">update 12/03/2021</span>
  <span class="style_mark__k9tcv"> 8 </span>
</li>
<li class="_rads_wdmzw_9">
  <button class="_avatarContainer_sgf14_2" data-nickname="alice"><img class="_image_sgf14_42"></button>
  <div class="style_gameTitle__RFwyp"><a href="https://trictrac.net/jeux/update-mania">Update Mania</a></div>
  <span class="style_dateBox__cDUMX">01/01/2020</span>
  <span class="style_mark__k9tcv">5</span>
</li>
<li class="_rads_wdmzw_9"><span class="decoration"></span></li>
</ul></body></html>`

func TestReviewParser(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://trictrac.net/avis/7")
	require.NoError(t, err)
	got, err := NewReviewParser(DefaultReviewSelectors())(base, []byte(reviewsHTML))
	require.NoError(t, err)
	require.Len(t, got, 2, "rows without any field are skipped")

	assert.Equal(t, catalog.Review{
		Game:    "Catan",
		GameURL: "https://trictrac.net/jeux/catan",
		Date:    "12/03/2021",
		Author:  "Bob",
		Score:   "8",
	}, got[0])
	assert.Equal(t, "Update Mania", got[1].Game, "icon words inside a title are kept")
	assert.Equal(t, "alice", got[1].Author, "nickname is the fallback author")
	assert.Equal(t, "https://trictrac.net/jeux/update-mania", got[1].GameURL)
}

func TestReviewParserEmptyPage(t *testing.T) {
	t.Parallel()

	got, err := NewReviewParser(ReviewSelectors{})(nil, []byte("<html><body><p>Aucun avis</p></body></html>"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReviewWalkerFetch(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{bodies: map[string]string{"https://trictrac.net/avis/7": reviewsHTML}}
	w, err := NewReviewWalker(f, "https://trictrac.net/avis/{page}", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://trictrac.net/avis/7", w.PageURL(7))

	got, err := w.Fetch(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, rv := range got {
		assert.Equal(t, 7, rv.Page)
	}
}

func TestReviewWalkerFetchFailureIsTyped(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	f := &stubFetcher{errs: map[string]error{"https://trictrac.net/avis/2": boom}}
	w, err := NewReviewWalker(f, "https://trictrac.net/avis/{page}", nil, nil)
	require.NoError(t, err)

	_, err = w.Fetch(context.Background(), 2)
	var le *catalog.ListingError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, 2, le.Page)
	assert.Equal(t, "https://trictrac.net/avis/2", le.URL)
	assert.ErrorIs(t, err, boom)
}

func TestNewReviewWalkerValidates(t *testing.T) {
	t.Parallel()

	_, err := NewReviewWalker(nil, "https://trictrac.net/avis/{page}", nil, nil)
	require.Error(t, err)
	_, err = NewReviewWalker(&stubFetcher{}, "https://trictrac.net/avis", nil, nil)
	require.ErrorContains(t, err, "{page}")
}
