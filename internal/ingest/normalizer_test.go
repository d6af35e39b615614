package ingest_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"omnibox.app/ingest/common/id"
	"omnibox.app/ingest/internal/ingest"
	"omnibox.app/ingest/internal/model"
	"omnibox.app/ingest/internal/platform"
)

var _ = Describe("Normalizer", func() {
	var normalizer *ingest.Normalizer

	BeforeEach(func() {
		Expect(id.Init(1)).To(Succeed())
		registry, err := platform.Default()
		Expect(err).NotTo(HaveOccurred())
		normalizer = ingest.NewNormalizer(registry)
	})

	It("is deterministic apart from the assigned id and ingest time", func() {
		payload := telegramPayload(555, -100123, "same bytes in, same record out")

		first, firstKey, err := normalizer.Normalize(model.PlatformTelegram, payload)
		Expect(err).NotTo(HaveOccurred())
		second, secondKey, err := normalizer.Normalize(model.PlatformTelegram, payload)
		Expect(err).NotTo(HaveOccurred())

		Expect(second.ID).NotTo(Equal(first.ID))
		Expect(secondKey).To(Equal(firstKey))

		a, b := *first, *second
		a.ID, b.ID = 0, 0
		a.IngestedAt, b.IngestedAt = time.Time{}, time.Time{}
		Expect(b).To(Equal(a))
	})

	It("rejects a platform with no adapter", func() {
		_, _, err := normalizer.Normalize(model.Platform("fax"), telegramPayload(1, 2, "x"))
		Expect(err).To(MatchError(ingest.ErrUnknownPlatform))
	})
})
