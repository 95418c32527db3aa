package handler

import (
	"time"

	"github.com/alanyoungcy/opinionmarket/internal/domain"
	"github.com/alanyoungcy/opinionmarket/internal/fees"
	"github.com/alanyoungcy/opinionmarket/internal/ledger"
)

// Amounts are integers in smallest units with a *_display twin.

type opinionView struct {
	ID                       uint64    `json:"id"`
	Question                 string    `json:"question"`
	Creator                  string    `json:"creator"`
	QuestionOwner            string    `json:"question_owner"`
	CurrentAnswer            string    `json:"current_answer"`
	CurrentAnswerOwner       string    `json:"current_answer_owner"`
	CurrentAnswerDescription string    `json:"current_answer_description,omitempty"`
	Link                     string    `json:"link,omitempty"`
	Categories               []string  `json:"categories"`
	LastPrice                int64     `json:"last_price"`
	LastPriceDisplay         string    `json:"last_price_display"`
	NextPrice                int64     `json:"next_price"`
	NextPriceDisplay         string    `json:"next_price_display"`
	TotalVolume              int64     `json:"total_volume"`
	TotalVolumeDisplay       string    `json:"total_volume_display"`
	SalePrice                int64     `json:"sale_price"`
	SalePriceDisplay         string    `json:"sale_price_display"`
	IsActive                 bool      `json:"is_active"`
	CreatedAt                time.Time `json:"created_at"`
}

func viewOpinion(o domain.Opinion) opinionView {
	return opinionView{
		ID:                       o.ID,
		Question:                 o.Question,
		Creator:                  o.Creator.Hex(),
		QuestionOwner:            o.QuestionOwner.Hex(),
		CurrentAnswer:            o.CurrentAnswer,
		CurrentAnswerOwner:       o.CurrentAnswerOwner.Hex(),
		CurrentAnswerDescription: o.CurrentAnswerDescription,
		Link:                     o.Link,
		Categories:               append([]string{}, o.Categories...),
		LastPrice:                int64(o.LastPrice),
		LastPriceDisplay:         o.LastPrice.String(),
		NextPrice:                int64(o.NextPrice),
		NextPriceDisplay:         o.NextPrice.String(),
		TotalVolume:              int64(o.TotalVolume),
		TotalVolumeDisplay:       o.TotalVolume.String(),
		SalePrice:                int64(o.SalePrice),
		SalePriceDisplay:         o.SalePrice.String(),
		IsActive:                 o.IsActive,
		CreatedAt:                o.CreatedAt.UTC(),
	}
}

type historyView struct {
	Answer       string    `json:"answer"`
	Description  string    `json:"description,omitempty"`
	Owner        string    `json:"owner"`
	Price        int64     `json:"price"`
	PriceDisplay string    `json:"price_display"`
	Timestamp    time.Time `json:"timestamp"`
}

func viewHistory(entries []domain.AnswerHistoryEntry) []historyView {
	out := make([]historyView, len(entries))
	for i, h := range entries {
		out[i] = historyView{
			Answer:       h.Answer,
			Description:  h.Description,
			Owner:        h.Owner.Hex(),
			Price:        int64(h.Price),
			PriceDisplay: h.Price.String(),
			Timestamp:    h.Timestamp.UTC(),
		}
	}
	return out
}

type contributionView struct {
	Contributor   string `json:"contributor"`
	Amount        int64  `json:"amount"`
	AmountDisplay string `json:"amount_display"`
	Withdrawn     bool   `json:"withdrawn"`
}

type poolView struct {
	ID                  uint64             `json:"id"`
	OpinionID           uint64             `json:"opinion_id"`
	Address             string             `json:"address"`
	ProposedAnswer      string             `json:"proposed_answer"`
	ProposedDescription string             `json:"proposed_description,omitempty"`
	Creator             string             `json:"creator"`
	Deadline            time.Time          `json:"deadline"`
	TotalAmount         int64              `json:"total_amount"`
	TotalAmountDisplay  string             `json:"total_amount_display"`
	TargetPrice         int64              `json:"target_price"`
	TargetPriceDisplay  string             `json:"target_price_display"`
	Status              string             `json:"status"`
	Name                string             `json:"name"`
	ContentHash         string             `json:"content_hash,omitempty"`
	Contributions       []contributionView `json:"contributions"`
	CreatedAt           time.Time          `json:"created_at"`
	ExecutedAt          *time.Time         `json:"executed_at,omitempty"`
}

func viewPool(p domain.Pool) poolView {
	v := poolView{
		ID:                  p.ID,
		OpinionID:           p.OpinionID,
		Address:             p.Address().Hex(),
		ProposedAnswer:      p.ProposedAnswer,
		ProposedDescription: p.ProposedDescription,
		Creator:             p.Creator.Hex(),
		Deadline:            p.Deadline.UTC(),
		TotalAmount:         int64(p.TotalAmount),
		TotalAmountDisplay:  p.TotalAmount.String(),
		TargetPrice:         int64(p.TargetPrice),
		TargetPriceDisplay:  p.TargetPrice.String(),
		Status:              p.Status.String(),
		Name:                p.Name,
		ContentHash:         p.ContentHash,
		Contributions:       make([]contributionView, len(p.Contributions)),
		CreatedAt:           p.CreatedAt.UTC(),
	}
	for i, c := range p.Contributions {
		v.Contributions[i] = contributionView{
			Contributor:   c.Contributor.Hex(),
			Amount:        int64(c.Amount),
			AmountDisplay: c.Amount.String(),
			Withdrawn:     c.Withdrawn,
		}
	}
	if !p.ExecutedAt.IsZero() {
		at := p.ExecutedAt.UTC()
		v.ExecutedAt = &at
	}
	return v
}

type amountView struct {
	Amount        int64  `json:"amount"`
	AmountDisplay string `json:"amount_display"`
}

func viewAmount(a domain.Amount) amountView {
	return amountView{Amount: int64(a), AmountDisplay: a.String()}
}

type tradeView struct {
	Opinion       opinionView `json:"opinion"`
	Price         amountView  `json:"price"`
	CreatorFee    amountView  `json:"creator_fee"`
	OwnerAmount   amountView  `json:"owner_amount"`
	PlatformFee   amountView  `json:"platform_fee"`
	Penalty       amountView  `json:"penalty"`
	PreviousOwner string      `json:"previous_owner"`
}

func viewTrade(res ledger.TradeResult) tradeView {
	return tradeView{
		Opinion:       viewOpinion(res.Opinion),
		Price:         viewAmount(res.Price),
		CreatorFee:    viewAmount(res.Split.Creator),
		OwnerAmount:   viewAmount(res.Split.Owner),
		PlatformFee:   viewAmount(res.Split.Platform),
		Penalty:       viewAmount(res.Split.Penalty),
		PreviousOwner: res.PreviousOwner.Hex(),
	}
}

type resaleView struct {
	Opinion     opinionView `json:"opinion"`
	SellerShare amountView  `json:"seller_amount"`
	PlatformFee amountView  `json:"platform_fee"`
}

func viewResale(o domain.Opinion, s fees.ResaleSplit) resaleView {
	return resaleView{
		Opinion:     viewOpinion(o),
		SellerShare: viewAmount(s.Seller),
		PlatformFee: viewAmount(s.Platform),
	}
}
