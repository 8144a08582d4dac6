package models

type Category struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	LeaderboardType LeaderboardType `json:"leaderboardType"`
}

type Platform struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Level struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
