package geography

import "os"

func integrationDSN() string { return os.Getenv("GEOGRAPHY_TEST_DATABASE_URL") }
