package service

import (
	"context"
	"fmt"

	"github.com/Shivanand-hulikatti/library-lending/internal/model"
)

// DefaultBooks is the starter catalog inserted into an empty database.
var DefaultBooks = []model.CreateBookRequest{
	{
		Image:            "https://covers.openlibrary.org/b/id/10521236-L.jpg",
		Title:            "Pride and Prejudice",
		Quantity:         8,
		Author:           "Jane Austen",
		Category:         "Fiction",
		ShortDescription: "A timeless novel about love, class, and misunderstandings in 19th century England.",
		Rating:           4.6,
		Content:          "Published in 1813, this beloved classic explores the emotional development of Elizabeth Bennet and her complex relationship with Mr. Darcy.",
	},
	{
		Image:            "https://covers.openlibrary.org/b/id/8226191-L.jpg",
		Title:            "Dracula",
		Quantity:         6,
		Author:           "Bram Stoker",
		Category:         "Horror",
		ShortDescription: "The chilling tale of Count Dracula's attempt to move from Transylvania to England.",
		Rating:           4.3,
		Content:          "A Gothic horror masterpiece that shaped modern vampire lore, exploring fear, seduction, and the unknown.",
	},
	{
		Image:            "https://covers.openlibrary.org/b/id/8231856-L.jpg",
		Title:            "The Time Machine",
		Quantity:         5,
		Author:           "H.G. Wells",
		Category:         "Science",
		ShortDescription: "A scientist ventures through time to discover the fate of humanity.",
		Rating:           4.2,
		Content:          "Published in 1895, this pioneering science fiction novel examines social evolution and technological progress.",
	},
	{
		Image:            "https://covers.openlibrary.org/b/id/11141529-L.jpg",
		Title:            "Sapiens: A Brief History of Humankind",
		Quantity:         10,
		Author:           "Yuval Noah Harari",
		Category:         "History",
		ShortDescription: "A global overview of human evolution, society, and culture.",
		Rating:           4.7,
		Content:          "An insightful journey from the cognitive revolution to today's data-driven world, blending history with anthropology.",
	},
	{
		Image:            "https://covers.openlibrary.org/b/id/5541061-L.jpg",
		Title:            "Charlotte's Web",
		Quantity:         12,
		Author:           "E.B. White",
		Category:         "Children",
		ShortDescription: "A heartwarming story of friendship between a pig and a spider.",
		Rating:           4.8,
		Content:          "This beloved children's classic teaches compassion, loyalty, and the power of words through a magical barnyard tale.",
	},
	{
		Image:            "https://covers.openlibrary.org/b/id/8231995-L.jpg",
		Title:            "Frankenstein",
		Quantity:         4,
		Author:           "Mary Shelley",
		Category:         "Horror",
		ShortDescription: "A scientist creates life, only to be haunted by his monstrous creation.",
		Rating:           4.4,
		Content:          "More than a horror story, this novel explores ambition, isolation, and the consequences of playing god.",
	},
}

// SeedDefaults inserts DefaultBooks when the catalog is empty and reports how
// many books it added.
func (s *LibraryService) SeedDefaults(ctx context.Context) (int, error) {
	n, err := s.catalog.CountBooks(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}

	for i, req := range DefaultBooks {
		if _, err := s.CreateBook(ctx, req); err != nil {
			return i, fmt.Errorf("seed %q: %w", req.Title, err)
		}
	}
	return len(DefaultBooks), nil
}
