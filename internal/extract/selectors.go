package extract

// Selectors describes where the source site puts each piece of an item.
type Selectors struct {
	ListingLink       string `mapstructure:"listing_link"`
	Title             string `mapstructure:"title"`
	SubHeader         string `mapstructure:"sub_header"`
	YearTitle         string `mapstructure:"year_title"`
	SpecTable         string `mapstructure:"spec_table"`
	ContributorBlocks string `mapstructure:"contributor_blocks"`
	Image             string `mapstructure:"image"`
	ImageURLParam     string `mapstructure:"image_url_param"`
}

// DefaultSelectors matches the trictrac.net markup.
func DefaultSelectors() Selectors {
	return Selectors{
		ListingLink:       ".style_compactCard__SrGIj",
		Title:             "h1.style_specsTitle__NMRfc",
		SubHeader:         "h4.style_specsSubTitle__rfo9t",
		YearTitle:         "Année de sortie",
		SpecTable:         "table.style_specsItems__HUu7f",
		ContributorBlocks: "div.style_conceptorsSpecs___QBek[title]",
		Image:             "img[itemprop='image']",
		ImageURLParam:     "url",
	}
}

// withDefaults fills blank selectors from DefaultSelectors.
func (s Selectors) withDefaults() Selectors {
	d := DefaultSelectors()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&s.ListingLink, d.ListingLink)
	fill(&s.Title, d.Title)
	fill(&s.SubHeader, d.SubHeader)
	fill(&s.YearTitle, d.YearTitle)
	fill(&s.SpecTable, d.SpecTable)
	fill(&s.ContributorBlocks, d.ContributorBlocks)
	fill(&s.Image, d.Image)
	fill(&s.ImageURLParam, d.ImageURLParam)
	return s
}

// ReviewSelectors describes the rows of a review listing page.
type ReviewSelectors struct {
	Row          string `mapstructure:"row"`
	GameTitle    string `mapstructure:"game_title"`
	GameLink     string `mapstructure:"game_link"`
	Date         string `mapstructure:"date"`
	Score        string `mapstructure:"score"`
	AvatarImage  string `mapstructure:"avatar_image"`
	AvatarButton string `mapstructure:"avatar_button"`
}

// DefaultReviewSelectors matches the trictrac.net review pages.
func DefaultReviewSelectors() ReviewSelectors {
	return ReviewSelectors{
		Row:          "li._rads_wdmzw_9",
		GameTitle:    ".style_gameTitle__RFwyp",
		GameLink:     ".style_gameTitle__RFwyp a",
		Date:         ".style_dateBox__cDUMX",
		Score:        ".style_mark__k9tcv",
		AvatarImage:  "img._image_sgf14_42",
		AvatarButton: "button._avatarContainer_sgf14_2",
	}
}

func (s ReviewSelectors) withDefaults() ReviewSelectors {
	d := DefaultReviewSelectors()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&s.Row, d.Row)
	fill(&s.GameTitle, d.GameTitle)
	fill(&s.GameLink, d.GameLink)
	fill(&s.Date, d.Date)
	fill(&s.Score, d.Score)
	fill(&s.AvatarImage, d.AvatarImage)
	fill(&s.AvatarButton, d.AvatarButton)
	return s
}
