package main

import dbconnector "project-echo"

type rawQueryRequest struct {
	ConnectionID string `json:"connectionId"`
	Query        string `json:"query"`
}

type detectRequest struct {
	ConnectionString string `json:"connectionString"`
}

// addConnectionRequest registers either a connection string or a database
// file already present on the server.
type addConnectionRequest struct {
	Name             string `json:"name"`
	Type             string `json:"type"`
	ConnectionString string `json:"connectionString"`
	FilePath         string `json:"filePath"`
}

type jsonFieldRequest struct {
	ConnectionID string `json:"connectionId"`
	dbconnector.JSONFieldQuery
}

type jsonArrayRequest struct {
	ConnectionID string `json:"connectionId"`
	dbconnector.JSONArrayQuery
}

type jsonComplexRequest struct {
	ConnectionID string `json:"connectionId"`
	Query        string `json:"query"`
}

type jsonInsertRequest struct {
	ConnectionID string `json:"connectionId"`
	dbconnector.JSONInsert
}

type jsonUpdateRequest struct {
	ConnectionID string `json:"connectionId"`
	dbconnector.JSONUpdate
}

type jsonAppendRequest struct {
	ConnectionID string `json:"connectionId"`
	dbconnector.JSONAppend
}

type rowsAffected struct {
	RowsAffected int64 `json:"rowsAffected"`
}
