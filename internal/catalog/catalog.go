package catalog

import (
	"context"

	"go.uber.org/zap"

	"course-bot/internal/models"
	"course-bot/internal/util"
)

// Seeder is the ledger side of catalog seeding
type Seeder interface {
	SeedCatalog(ctx context.Context, courses []models.Course) (bool, error)
}

// Seed writes the built-in catalog when the store has no courses yet
func Seed(ctx context.Context, s Seeder) error {
	seeded, err := s.SeedCatalog(ctx, Courses())
	if err != nil {
		return err
	}
	if seeded {
		util.GetLogger().Info("Course catalog seeded", zap.Int("courses", len(Courses())))
	}
	return nil
}

// Courses returns the built-in catalog
func Courses() []models.Course {
	return []models.Course{
		{
			ID:          "course_1",
			Name:        "Freelance income",
			Price:       100,
			Description: "A complete guide to freelancing",
			Active:      true,
			Lessons: []models.Lesson{
				{
					CourseID: "course_1",
					Number:   1,
					Title:    "Choosing a freelance niche",
					Content: "📖 <b>LESSON 1: CHOOSING A NICHE</b>\n\n" +
						"<b>What is a niche?</b>\n" +
						"A niche is the specialised area where you offer services. Picking it well is half of a freelancer's success.\n\n" +
						"<b>Popular niches:</b>\n" +
						"✅ Copywriting\n✅ SMM\n✅ Web design\n✅ Programming\n",
				},
				{
					CourseID: "course_1",
					Number:   2,
					Title:    "Building a portfolio",
					Content: "📖 <b>LESSON 2: BUILDING A PORTFOLIO</b>\n\n" +
						"<b>Why it matters</b>\n" +
						"Most clients judge you by your portfolio.\n\n" +
						"<b>What to include:</b>\n" +
						"✅ 3-5 best works\n✅ Problem and solution for each project\n✅ Results and metrics\n✅ Client reviews\n",
				},
			},
		},
		{
			ID:          "course_2",
			Name:        "Crypto investing",
			Price:       200,
			Description: "Investing safely",
			Active:      true,
			Lessons: []models.Lesson{
				{
					CourseID: "course_2",
					Number:   1,
					Title:    "What is cryptocurrency",
					Content: "📖 <b>LESSON 1: WHAT IS CRYPTOCURRENCY</b>\n\n" +
						"<b>Definition:</b>\nDigital money secured by mathematics.\n\n" +
						"<b>Advantages:</b>\n✅ No bank fees\n✅ Transfers in minutes\n✅ Transparency\n",
				},
			},
		},
		{
			ID:          "course_3",
			Name:        "Launching a SaaS",
			Price:       300,
			Description: "How to start your own service",
			Active:      true,
			Lessons: []models.Lesson{
				{
					CourseID: "course_3",
					Number:   1,
					Title:    "Finding a SaaS idea",
					Content: "📖 <b>LESSON 1: FINDING A SAAS IDEA</b>\n\n" +
						"<b>What is SaaS?</b>\nSoftware people pay for monthly.\n\n" +
						"<b>Why SaaS:</b>\n✅ Recurring revenue\n✅ Predictable income\n✅ Easy to scale\n",
				},
			},
		},
	}
}
