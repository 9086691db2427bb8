package service

import "errors"

var (
	// ErrDealNotFound is returned when a deal cannot be found
	ErrDealNotFound = errors.New("deal not found")

	// ErrDealNotLive is returned when a deal is inactive or outside its schedule window
	ErrDealNotLive = errors.New("deal is not live")

	// ErrDealSoldOut is returned when a deal's redemption cap has been reached
	ErrDealSoldOut = errors.New("deal is sold out")

	// ErrAlreadyRedeemed is returned when a user has already consumed a code for this deal
	ErrAlreadyRedeemed = errors.New("deal already redeemed by user")

	// ErrRegenLimited is returned when a user exceeds the code-regeneration window cap
	ErrRegenLimited = errors.New("too many code regenerations")

	// ErrActiveClaimExists is returned on a unique-constraint collision for the
	// issued-claim index; callers serialize on the deal row so hitting this
	// means two issuers raced outside a transaction
	ErrActiveClaimExists = errors.New("an active code already exists for this deal and user")

	// ErrInvalidRequest is returned when request data is invalid or incomplete
	ErrInvalidRequest = errors.New("invalid request")
)
