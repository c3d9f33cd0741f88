package model

// CallerProfile is the authenticated caller identity supplied by the
// surrounding account system through JWT claims. Account management
// itself lives outside this service.
type CallerProfile struct {
	UserID       uint   `json:"userId"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	FacilityID   string `json:"facilityId"`
	FacilityName string `json:"facilityName"`
}
