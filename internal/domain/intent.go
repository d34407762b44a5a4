package domain

// Intent is the coarse topic of an utterance.
type Intent string

const (
	IntentGreeting         Intent = "greeting"
	IntentOrderStatus      Intent = "order_status"
	IntentBilling          Intent = "billing"
	IntentReturns          Intent = "returns"
	IntentAccount          Intent = "account"
	IntentProductInfo      Intent = "product_info"
	IntentComplaint        Intent = "complaint"
	IntentCompliment       Intent = "compliment"
	IntentTechnicalSupport Intent = "technical_support"
	IntentCancellation     Intent = "cancellation"
	IntentGeneral          Intent = "general"
)
