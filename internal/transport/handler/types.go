package handler

type CreateRecordParams struct {
	Title string `validate:"required,max=280"` // records.caption before encryption
}

type uploadResponse struct {
	Status string `json:"status"`
	ID     int64  `json:"id"`
}

type healthResponse struct {
	Status string `json:"status"`
}
