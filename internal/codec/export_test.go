package codec

import "github.com/alanyoungcy/opinionmarket/internal/domain"

// OpinionV1 encodes o the way v1 writers did: no question owner field.
func OpinionV1(o domain.Opinion) []byte {
	o.QuestionOwner = domain.ZeroAddr
	body, err := open(EncodeOpinion(o), EntityOpinion)
	if err != nil {
		panic(err)
	}
	return sealVersion(EntityOpinion, 1, body)
}

// Seal wraps body at an explicit version.
var Seal = sealVersion
